package asset

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/unity-host/errors"
)

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestDecode(t *testing.T) {
	br, err := Encode(wasmHeader, Brotli)
	if err != nil {
		t.Fatal(err)
	}
	gz, err := Encode(wasmHeader, Gzip)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		file string
		data []byte
		enc  Encoding
	}{
		{"plain", "Build/game.wasm", wasmHeader, Identity},
		{"brotli suffix", "Build/game.wasm.br", br, Brotli},
		{"gzip suffix", "Build/game.wasm.gz", gz, Gzip},
		{"gzip magic without suffix", "Build/game.wasm.unityweb", gz, Gzip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, enc, err := Decode(tt.data, tt.file)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if enc != tt.enc {
				t.Errorf("encoding = %s, want %s", enc, tt.enc)
			}
			if !bytes.Equal(out, wasmHeader) {
				t.Errorf("decoded = %x", out)
			}
		})
	}
}

func TestDecode_Corrupt(t *testing.T) {
	_, _, err := Decode([]byte("not brotli at all"), "game.wasm.br")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindInvalidData}) {
		t.Errorf("Decode corrupt brotli = %v", err)
	}
}

func TestRead(t *testing.T) {
	dir := t.TempDir()
	br, _ := Encode(wasmHeader, Brotli)
	path := filepath.Join(dir, "game.wasm.br")
	if err := os.WriteFile(path, br, 0o644); err != nil {
		t.Fatal(err)
	}

	out, enc, err := Read(path)
	if err != nil || enc != Brotli || !bytes.Equal(out, wasmHeader) {
		t.Fatalf("Read = %x, %s, %v", out, enc, err)
	}

	_, _, err = Read(filepath.Join(dir, "missing.wasm"))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindNotFound}) {
		t.Errorf("Read missing = %v", err)
	}
}
