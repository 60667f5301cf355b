package modelcache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Compressor is the streaming compression capability used for stored
// payloads. Implementations must round-trip arbitrary binary data.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Name() string
}

// NewPassthrough returns a Compressor that stores payloads verbatim.
func NewPassthrough() Compressor {
	return passthroughCompressor{}
}

type passthroughCompressor struct{}

func (passthroughCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (passthroughCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (passthroughCompressor) Name() string                           { return "passthrough" }

// NewGzip returns a gzip Compressor tuned for speed; model artifacts are
// large and written on the download path.
func NewGzip() Compressor {
	return gzipCompressor{level: gzip.BestSpeed}
}

type gzipCompressor struct {
	level int
}

func (c gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}

func (c gzipCompressor) Name() string { return "gzip" }
