// Package asset reads build artefacts (engine binary, data package) that
// may be shipped pre-compressed.
package asset

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/wippyai/unity-host/errors"
)

// Encoding is the compression an artefact was stored with.
type Encoding string

const (
	Identity Encoding = "identity"
	Gzip     Encoding = "gzip"
	Brotli   Encoding = "br"
)

// MaxDecodedSize caps decompressed output.
const MaxDecodedSize = 1 << 30

var gzipMagic = []byte{0x1f, 0x8b}

// Detect picks the encoding from the file name suffix, falling back to the
// gzip magic bytes. Brotli has no magic and is recognised by suffix only.
func Detect(name string, data []byte) Encoding {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".br":
		return Brotli
	case ".gz":
		return Gzip
	}
	if bytes.HasPrefix(data, gzipMagic) {
		return Gzip
	}
	return Identity
}

// Read loads and decodes the artefact at path.
func Read(path string) ([]byte, Encoding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Identity, errors.NotFound(errors.PhaseLoad, "artefact", path)
		}
		return nil, Identity, errors.Load("read "+path, err)
	}
	return Decode(data, path)
}

// Decode decompresses data according to Detect(name, data).
func Decode(data []byte, name string) ([]byte, Encoding, error) {
	enc := Detect(name, data)
	var r io.Reader
	switch enc {
	case Brotli:
		r = brotli.NewReader(bytes.NewReader(data))
	case Gzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, enc, errors.Load("gzip header of "+name, err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	default:
		return data, enc, nil
	}

	out, err := io.ReadAll(io.LimitReader(r, MaxDecodedSize+1))
	if err != nil {
		return nil, enc, errors.Load("decompress "+name, err)
	}
	if len(out) > MaxDecodedSize {
		return nil, enc, errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Path(name).
			Detail("decompressed output exceeds %d bytes", MaxDecodedSize).
			Build()
	}
	return out, enc, nil
}

// Encode compresses data; used to produce fixtures and pre-compressed builds.
func Encode(data []byte, enc Encoding) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch enc {
	case Brotli:
		w = brotli.NewWriterLevel(&buf, brotli.BestCompression)
	case Gzip:
		w = gzip.NewWriter(&buf)
	case Identity:
		return data, nil
	default:
		return nil, errors.InvalidInput(errors.PhaseLoad, "unknown encoding "+string(enc))
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "compress")
	}
	return buf.Bytes(), nil
}
