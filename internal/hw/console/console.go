// Package console mirrors the diagnostic log to a UART so the clock can be
// watched with a serial terminal when no network is available.
package console

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tarm/serial"
)

const defaultBaud = 115200

// Open opens the serial device for writing. Lines are sent with CRLF
// endings, which is what serial terminals expect.
func Open(device string, baud int) (io.WriteCloser, error) {
	if device == "" {
		return nil, fmt.Errorf("serial device is required")
	}
	if baud <= 0 {
		baud = defaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	return NewCRLFWriter(port), nil
}

// CRLFWriter rewrites bare LF to CRLF.
type CRLFWriter struct {
	w io.WriteCloser
}

// NewCRLFWriter wraps w.
func NewCRLFWriter(w io.WriteCloser) *CRLFWriter {
	return &CRLFWriter{w: w}
}

// Write converts line endings and reports len(p) on success, as the
// caller's bytes are all consumed.
func (c *CRLFWriter) Write(p []byte) (int, error) {
	out := bytes.ReplaceAll(p, []byte("\r\n"), []byte("\n"))
	out = bytes.ReplaceAll(out, []byte("\n"), []byte("\r\n"))
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the serial port.
func (c *CRLFWriter) Close() error {
	return c.w.Close()
}
