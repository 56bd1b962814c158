// Package gateway implements the root-only serial adapter (§4.9/§6):
// line-delimited text commands in from an external server, line-
// delimited DATA reports back out. It treats the serial line purely as
// an io.Reader/io.Writer, bufio.Scanner-driven, the pack's go.mod
// files do not reference a dedicated serial-port library, so this is a
// deliberate stdlib choice (see DESIGN.md) rather than an adaptation of
// any single example.
package gateway

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"aqmesh/internal/domain"
	"aqmesh/internal/logger"
)

// OpenHandler is invoked for every recognized "1/<nodeId>" line.
type OpenHandler func(dst domain.NodeID)

// Gateway reads line-delimited commands from a serial source and
// writes line-delimited DATA reports to the same sink.
type Gateway struct {
	logger  logger.Logger
	r       io.Reader
	w       io.Writer
	onOpen  OpenHandler
	scanner *bufio.Scanner
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

func WithLogger(l logger.Logger) Option { return func(g *Gateway) { g.logger = l } }

// New creates a Gateway reading commands from r and writing DATA
// reports to w. onOpen is called for each "1/<nodeId>" line recognized.
func New(r io.Reader, w io.Writer, onOpen OpenHandler, opts ...Option) *Gateway {
	g := &Gateway{
		logger:  &logger.NopLogger{},
		r:       r,
		w:       w,
		onOpen:  onOpen,
		scanner: bufio.NewScanner(r),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run reads lines from the serial source until EOF or a read error,
// dispatching each recognized command. It returns nil on clean EOF.
func (g *Gateway) Run() error {
	for g.scanner.Scan() {
		g.handleLine(g.scanner.Text())
	}
	return g.scanner.Err()
}

// handleLine parses one "<type>/<arg>" command line. Only "1/<nodeId>"
// (OPEN) is currently recognized; anything else is reported and
// ignored, per §4.9.
func (g *Gateway) handleLine(line string) {
	parts := strings.SplitN(strings.TrimSpace(line), "/", 2)
	if len(parts) != 2 {
		g.logger.Warn("gateway: malformed command line, ignoring", logger.F("line", line))
		return
	}
	switch parts[0] {
	case "1":
		id, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			if hex, hexErr := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 16); hexErr == nil {
				id = hex
			} else {
				g.logger.Warn("gateway: invalid node id in OPEN command", logger.F("line", line))
				return
			}
		}
		if g.onOpen != nil {
			g.onOpen(domain.NodeID(id))
		}
	default:
		g.logger.Warn("gateway: unrecognized command type, ignoring", logger.F("line", line))
	}
}

// DeliverData writes a "0/<srcId>/<value>" line for a DATA message
// that reached the root, per §4.9.
func (g *Gateway) DeliverData(src domain.NodeID, value uint16) {
	line := fmt.Sprintf("0/%d/%d\n", uint16(src), value)
	if _, err := io.WriteString(g.w, line); err != nil {
		g.logger.Error("gateway: failed to write DATA line", logger.F("err", err))
	}
}
