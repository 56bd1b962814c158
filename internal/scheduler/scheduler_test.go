package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestArmFiresOnce(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	fired := make(chan struct{}, 1)
	s.Arm("t", 10*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestResetReplacesDeadline(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	count := make(chan struct{}, 2)
	s.Arm("t", 200*time.Millisecond, func() { count <- struct{}{} })
	time.Sleep(20 * time.Millisecond)
	s.Reset("t", 20*time.Millisecond)

	select {
	case <-count:
	case <-time.After(time.Second):
		t.Fatal("reset timer never fired")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	fired := make(chan struct{}, 1)
	s.Arm("t", 20*time.Millisecond, func() { fired <- struct{}{} })
	s.Cancel("t")

	select {
	case <-fired:
		t.Fatal("canceled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReArmReplacesCallback(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	result := make(chan string, 1)
	s.Arm("t", time.Hour, func() { result <- "old" })
	s.Arm("t", 10*time.Millisecond, func() { result <- "new" })

	select {
	case got := <-result:
		if got != "new" {
			t.Fatalf("got %q, want %q", got, "new")
		}
	case <-time.After(time.Second):
		t.Fatal("re-armed timer never fired")
	}
}
