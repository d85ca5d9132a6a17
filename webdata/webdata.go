// Package webdata reads the UnityWebData1.0 package format Unity uses for
// the .data file of a WebGL build.
//
// Layout (integers little-endian):
//
//	magic      "UnityWebData1.0\x00"
//	u32        header size; payloads start at this offset
//	entries    {u32 offset, u32 size, u32 path length, path} until header size
//	payloads
package webdata

import (
	"bytes"
	"encoding/binary"
	"path"
	"sort"
	"strings"

	"github.com/wippyai/unity-host/errors"
	"github.com/wippyai/unity-host/fsys"
)

// Magic opens every package.
const Magic = "UnityWebData1.0\x00"

// File is one entry of the package directory.
type File struct {
	Path   string
	Offset uint32
	Size   uint32
}

// Package is a parsed data package. It references the buffer it was parsed
// from; payloads are not copied.
type Package struct {
	data  []byte
	index map[string]int
	Files []File
}

// Parse validates the header and directory of a package.
func Parse(data []byte) (*Package, error) {
	if !bytes.HasPrefix(data, []byte(Magic)) {
		return nil, errors.InvalidData(errors.PhaseLoad, nil, "missing "+strings.TrimSuffix(Magic, "\x00")+" magic")
	}
	pos := uint32(len(Magic))
	headerSize, ok := readU32(data, pos)
	if !ok {
		return nil, errors.InvalidData(errors.PhaseLoad, nil, "truncated header size")
	}
	pos += 4
	if headerSize < pos || uint64(headerSize) > uint64(len(data)) {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Detail("header size %d outside package of %d bytes", headerSize, len(data)).
			Build()
	}

	p := &Package{data: data, index: make(map[string]int)}
	for pos < headerSize {
		var f File
		var n uint32
		var ok1, ok2, ok3 bool
		f.Offset, ok1 = readU32(data, pos)
		f.Size, ok2 = readU32(data, pos+4)
		n, ok3 = readU32(data, pos+8)
		if !ok1 || !ok2 || !ok3 {
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
				Detail("truncated directory entry at %d", pos).
				Build()
		}
		pos += 12
		if uint64(pos)+uint64(n) > uint64(headerSize) {
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
				Detail("entry path at %d overruns header", pos).
				Build()
		}
		name := string(data[pos : pos+n])
		pos += n

		clean, err := cleanPath(name)
		if err != nil {
			return nil, err
		}
		f.Path = clean
		if uint64(f.Offset)+uint64(f.Size) > uint64(len(data)) || f.Offset < headerSize {
			return nil, errors.New(errors.PhaseLoad, errors.KindOutOfBounds).
				Path(clean).
				Detail("payload [%d, +%d) outside package", f.Offset, f.Size).
				Build()
		}
		if _, dup := p.index[clean]; dup {
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
				Path(clean).
				Detail("duplicate entry").
				Build()
		}
		p.index[clean] = len(p.Files)
		p.Files = append(p.Files, f)
	}
	return p, nil
}

// cleanPath rejects entries that would escape the extraction directory.
func cleanPath(name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if name == "" || strings.ContainsRune(name, 0) || path.IsAbs(slashed) {
		return "", errors.InvalidData(errors.PhaseLoad, []string{name}, "invalid entry path")
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", errors.InvalidData(errors.PhaseLoad, []string{name}, "entry path escapes package root")
		}
	}
	return path.Clean(slashed), nil
}

func readU32(data []byte, at uint32) (uint32, bool) {
	if uint64(at)+4 > uint64(len(data)) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data[at:]), true
}

// Open returns the payload of the named entry.
func (p *Package) Open(name string) ([]byte, error) {
	clean, err := cleanPath(name)
	if err != nil {
		return nil, err
	}
	i, ok := p.index[clean]
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "package entry", clean)
	}
	f := p.Files[i]
	return p.data[f.Offset : f.Offset+f.Size], nil
}

// ExtractTo writes every entry under dir in the virtual filesystem.
func (p *Package) ExtractTo(fs *fsys.FS, dir string) error {
	for _, f := range p.Files {
		target := path.Join(fsys.Clean(dir), f.Path)
		if err := fs.WriteFile(target, p.data[f.Offset:f.Offset+f.Size], 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the total payload bytes.
func (p *Package) Size() uint64 {
	var n uint64
	for _, f := range p.Files {
		n += uint64(f.Size)
	}
	return n
}

// Build assembles a package from name to contents. Entries are written in
// name order.
func Build(files map[string][]byte) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	headerSize := uint32(len(Magic) + 4)
	for _, name := range names {
		headerSize += 12 + uint32(len(name))
	}

	var buf bytes.Buffer
	buf.WriteString(Magic)
	_ = binary.Write(&buf, binary.LittleEndian, headerSize)
	offset := headerSize
	for _, name := range names {
		_ = binary.Write(&buf, binary.LittleEndian, offset)
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(files[name])))
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(name)))
		buf.WriteString(name)
		offset += uint32(len(files[name]))
	}
	for _, name := range names {
		buf.Write(files[name])
	}
	return buf.Bytes()
}
