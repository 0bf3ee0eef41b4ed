// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Format is the compression wrapped around the tar stream.
type Format int

const (
	FormatXz Format = iota
	FormatZstd
	FormatGzip
)

// DefaultFormat is the format existing bundles are distributed in.
const DefaultFormat = FormatXz

var ErrUnsupportedFormat = errors.New("unsupported archive format")

func (f Format) String() string {
	switch f {
	case FormatXz:
		return "xz"
	case FormatZstd:
		return "zstd"
	case FormatGzip:
		return "gzip"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// Ext returns the file extension used for archives of this format.
func (f Format) Ext() string {
	switch f {
	case FormatZstd:
		return ".tar.zst"
	case FormatGzip:
		return ".tar.gz"
	default:
		return ".tar.xz"
	}
}

// FormatFromName parses a configured format name. An empty name selects the
// default.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "xz", "tar.xz":
		return FormatXz, nil
	case "zstd", "zst", "tar.zst":
		return FormatZstd, nil
	case "gzip", "gz", "tar.gz":
		return FormatGzip, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// FormatForPath picks the format from an archive file name.
func FormatForPath(path string) (Format, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatXz, nil
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatZstd, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatGzip, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func (f Format) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch f {
	case FormatXz:
		return xz.NewWriter(w)
	case FormatZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case FormatGzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
}

func (f Format) newReader(r io.Reader) (io.ReadCloser, error) {
	switch f {
	case FormatXz:
		zr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(zr), nil
	case FormatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case FormatGzip:
		return gzip.NewReader(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
}
