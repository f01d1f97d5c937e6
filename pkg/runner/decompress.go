package runner

import (
	"bytes"
	"context"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/godispatch/offload/pkg/dispatch"
)

// Encodings understood by Decompress. The task options carry the encoding as
// a plain string; an empty or absent encoding means the payload is returned
// as-is.
const (
	EncodingNone   = "none"
	EncodingGZIP   = "gzip"
	EncodingZlib   = "zlib"
	EncodingSnappy = "snappy"
	EncodingZstd   = "zstd"
)

// DefaultMaxDecompressedSize caps the decompressed output when the Decompress
// runner is used with a zero MaxSize.
const DefaultMaxDecompressedSize = 256 << 20 // 256 MiB

// Decompress inflates a compressed byte payload. The cap on the output size
// guards against decompression bombs; inputs inflating past it fail instead
// of exhausting memory. The output size is reported as progress before the
// terminal result.
type Decompress struct {
	// MaxSize bounds the decompressed output in bytes. Zero applies
	// DefaultMaxDecompressedSize.
	MaxSize int64
}

func (d Decompress) Run(_ context.Context, env dispatch.Envelope, report func(any)) (any, error) {
	data, ok := env.Payload.([]byte)
	if !ok {
		return nil, errors.Errorf("decompress payload must be []byte, got %T", env.Payload)
	}

	encoding := EncodingNone
	if env.Options != nil {
		s, ok := env.Options.(string)
		if !ok {
			return nil, errors.Errorf("decompress options must be a string encoding, got %T", env.Options)
		}
		if s != "" {
			encoding = s
		}
	}

	maxSize := d.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxDecompressedSize
	}

	var r io.Reader
	switch encoding {
	case EncodingNone:
		report(len(data))
		return data, nil

	case EncodingGZIP:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip stream")
		}
		defer gr.Close()
		r = gr

	case EncodingZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "opening zlib stream")
		}
		defer zr.Close()
		r = zr

	case EncodingSnappy:
		r = snappy.NewReader(bytes.NewReader(data))

	case EncodingZstd:
		// A fresh synchronous decoder per payload keeps the memory cap
		// enforceable through the capped copy below.
		zr, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, errors.Wrap(err, "opening zstd stream")
		}
		defer zr.Close()
		r = zr

	default:
		return nil, errors.Errorf("unsupported encoding %q", encoding)
	}

	out, err := readCapped(r, maxSize)
	if err != nil {
		return nil, errors.Wrapf(err, "decompressing %s payload", encoding)
	}
	report(len(out))
	return out, nil
}

// readCapped reads r to its end, failing once the output exceeds maxSize
// bytes.
func readCapped(r io.Reader, maxSize int64) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, err
	}
	if n > maxSize {
		return nil, errors.Errorf("decompressed data exceeds the %d byte limit", maxSize)
	}
	return buf.Bytes(), nil
}
