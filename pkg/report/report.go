// Package report defines the machine-readable result document emitted by
// pipe9x-check and the codecs it can be serialized with.
package report

import (
	"fmt"
	"os"
	"time"
)

// Report is one validation run over an endpoint pair.
type Report struct {
	Backend         string    `json:"backend" cbor:"backend"`
	ReadBufferSize  int       `json:"read_buffer_size" cbor:"read_buffer_size"`
	WriteBufferSize int       `json:"write_buffer_size" cbor:"write_buffer_size"`
	StartedAt       time.Time `json:"started_at" cbor:"started_at"`
	Duration        string    `json:"duration" cbor:"duration"`

	RoundTrip    Phase `json:"round_trip" cbor:"round_trip"`
	Backpressure Phase `json:"backpressure" cbor:"backpressure"`
	BrokenPipe   Phase `json:"broken_pipe" cbor:"broken_pipe"`

	BytesWritten int64 `json:"bytes_written" cbor:"bytes_written"`
	BytesRead    int64 `json:"bytes_read" cbor:"bytes_read"`
	Passed       bool  `json:"passed" cbor:"passed"`
}

// Phase is the outcome of one validation phase.
type Phase struct {
	Passed bool   `json:"passed" cbor:"passed"`
	Detail string `json:"detail,omitempty" cbor:"detail,omitempty"`
}

// Fail marks the phase failed with a formatted detail message.
func (p *Phase) Fail(format string, args ...any) {
	p.Passed = false
	p.Detail = fmt.Sprintf(format, args...)
}

// Pass marks the phase passed, keeping any informational detail.
func (p *Phase) Pass(detail string) {
	p.Passed = true
	p.Detail = detail
}

// Finalize derives the overall verdict from the phases.
func (r *Report) Finalize() {
	r.Passed = r.RoundTrip.Passed && r.Backpressure.Passed && r.BrokenPipe.Passed
}

// WriteFile serializes the report with the given codec and writes it to path.
func (r *Report) WriteFile(path string, c Codec) error {
	data, err := c.Marshal(r)
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	return nil
}
