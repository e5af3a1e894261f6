package report

import (
	"fmt"
	"strings"
)

// Codec defines a simple interface for marshaling report documents.
// Implementations should be deterministic so reports diff cleanly.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ForFormat returns the codec for a short format alias ("json" or "cbor").
func ForFormat(format string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return JSON(), nil
	case "cbor":
		return CBOR()
	default:
		return nil, fmt.Errorf("report: unknown format: %q", format)
	}
}
