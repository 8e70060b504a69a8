package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type stackedCloser struct {
	io.Reader
	closers []func() error
}

func (s *stackedCloser) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// DetectCompression maps a file extension to a codec name.
func DetectCompression(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return "gzip"
	case ".zst", ".zstd":
		return "zstd"
	case ".sz", ".snappy":
		return "snappy"
	case ".lz4":
		return "lz4"
	default:
		return "none"
	}
}

// OpenFile opens path and layers the requested decompressor on top. Every
// failure is reported as an *UnreadableError.
func OpenFile(path, compression string) (io.ReadCloser, error) {
	if compression == "" || compression == "auto" {
		compression = DetectCompression(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, Unreadable(path, -1, err)
	}
	rc := &stackedCloser{Reader: f, closers: []func() error{f.Close}}

	switch compression {
	case "none":
	case "gzip":
		zr, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, Unreadable(path, -1, fmt.Errorf("gzip: %w", err))
		}
		rc.Reader = zr
		rc.closers = append(rc.closers, zr.Close)
	case "zstd":
		zr, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, Unreadable(path, -1, fmt.Errorf("zstd: %w", err))
		}
		rc.Reader = zr
		rc.closers = append(rc.closers, func() error { zr.Close(); return nil })
	case "snappy":
		rc.Reader = snappy.NewReader(f)
	case "lz4":
		rc.Reader = lz4.NewReader(f)
	default:
		_ = f.Close()
		return nil, Unreadable(path, -1, fmt.Errorf("unknown compression %q", compression))
	}
	return rc, nil
}
