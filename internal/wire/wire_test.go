package wire

import (
	"errors"
	"testing"

	"aqmesh/internal/domain"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{"DIS", NewDIS()},
		{"DIO", NewDIO(domain.Rank(3))},
		{"DAO", NewDAO(domain.NodeID(0x0203))},
		{"OPEN", NewOpen(domain.NodeID(0x0203))},
		{"DATA", NewData(domain.NodeID(0x0203), 142)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := Encode(tc.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tc.msg {
				t.Fatalf("round trip mismatch: got %+v, want %+v", got, tc.msg)
			}
		})
	}
}

func TestEncodeSizes(t *testing.T) {
	sizes := map[Kind]int{
		KindDIS:  1,
		KindDIO:  2,
		KindDAO:  3,
		KindOpen: 3,
		KindData: 5,
	}
	for kind, want := range sizes {
		buf, err := Encode(Message{Kind: kind})
		if err != nil {
			t.Fatalf("Encode(%v): %v", kind, err)
		}
		if len(buf) != want {
			t.Errorf("%v: got size %d, want %d", kind, len(buf), want)
		}
		if buf[0] != byte(kind) {
			t.Errorf("%v: tag byte = %d, want %d", kind, buf[0], kind)
		}
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte{0xff})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("got %v, want ErrUnknownKind", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	cases := [][]byte{
		{},
		{byte(KindDIO)},
		{byte(KindDAO), 0x02},
		{byte(KindData), 0x02, 0x03, 0x00},
	}
	for _, buf := range cases {
		if _, err := Decode(buf); !errors.Is(err, ErrTruncated) {
			t.Errorf("Decode(%v): got %v, want ErrTruncated", buf, err)
		}
	}
}

func TestDataByteLayout(t *testing.T) {
	buf, err := Encode(NewData(domain.NodeID(0x0203), 0x1234))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{byte(KindData), 0x02, 0x03, 0x12, 0x34}
	if string(buf) != string(want) {
		t.Fatalf("got %v, want %v", buf, want)
	}
}
