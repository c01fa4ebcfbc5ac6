package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ErrInvalidCompressedFormat is returned by Codec.Decode for payloads that
// are not gzip-wrapped JSON, or that inflate past the limit.
var ErrInvalidCompressedFormat = errors.New("invalid compressed format")

// Codec is the per-frame compression envelope: gzip around UTF-8 JSON.
type Codec struct {
	// Limit bounds the inflated size of one payload.
	Limit int64
}

func NewCodec(limit int64) *Codec {
	if limit <= 0 {
		limit = defaultMaxMessageBytes
	}
	return &Codec{Limit: limit}
}

// Encode serializes v and compresses it.
func (c *Codec) Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode inflates b and returns the JSON it carries.
func (c *Codec) Decode(b []byte) (json.RawMessage, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedFormat, err)
	}
	defer func() { _ = zr.Close() }()

	raw, err := io.ReadAll(io.LimitReader(zr, c.Limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedFormat, err)
	}
	if int64(len(raw)) > c.Limit {
		return nil, fmt.Errorf("%w: inflated payload exceeds %d bytes", ErrInvalidCompressedFormat, c.Limit)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: not JSON", ErrInvalidCompressedFormat)
	}
	return json.RawMessage(raw), nil
}
