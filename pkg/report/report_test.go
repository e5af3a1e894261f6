package report

import (
	"path/filepath"
	"testing"
	"time"
)

func sample() *Report {
	r := &Report{
		Backend:         "thread",
		ReadBufferSize:  128 * 1024,
		WriteBufferSize: 128 * 1024,
		StartedAt:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Duration:        "1.2s",
		BytesWritten:    73728,
		BytesRead:       73728,
	}
	r.RoundTrip.Pass("64 bytes echoed")
	r.Backpressure.Pass("stalled after 9 chunks")
	r.BrokenPipe.Pass("")
	r.Finalize()
	return r
}

func TestFinalize(t *testing.T) {
	r := sample()
	if !r.Passed {
		t.Fatalf("all phases passed, report should pass")
	}
	r.Backpressure.Fail("write never stalled after %d chunks", 42)
	r.Finalize()
	if r.Passed {
		t.Fatalf("failed phase must fail the report")
	}
	if r.Backpressure.Detail == "" {
		t.Fatalf("Fail should record a detail message")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c := JSON()
	b, err := c.Marshal(sample())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Report
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Backend != "thread" || out.BytesWritten != 73728 || !out.Passed {
		t.Fatalf("roundtrip mismatch: %#v", out)
	}
}

func TestCBORRoundTrip(t *testing.T) {
	c, err := CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	b, err := c.Marshal(sample())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Report
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.BytesRead != 73728 || !out.RoundTrip.Passed {
		t.Fatalf("roundtrip mismatch: %#v", out)
	}
}

func TestForFormat(t *testing.T) {
	if c, err := ForFormat(""); err != nil || c.ContentType() != "application/json" {
		t.Fatalf("empty format should default to json, got %v %v", c, err)
	}
	if c, err := ForFormat("CBOR"); err != nil || c.ContentType() != "application/cbor" {
		t.Fatalf("cbor lookup failed: %v %v", c, err)
	}
	if _, err := ForFormat("xml"); err == nil {
		t.Fatalf("unknown format should error")
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := sample().WriteFile(path, JSON()); err != nil {
		t.Fatalf("write: %v", err)
	}
}
