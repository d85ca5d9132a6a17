package engine

import (
	"bytes"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/unity-host/errors"
)

// Memory wraps the engine's linear memory.
type Memory struct {
	mem api.Memory
}

func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseRuntime, offset, length)
	}
	return data, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseRuntime, offset, uint32(len(data)))
	}
	return nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseRuntime, offset, 4)
	}
	return val, nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseRuntime, offset, 4)
	}
	return nil
}

func (m *Memory) ReadF64(offset uint32) (float64, error) {
	val, ok := m.mem.ReadFloat64Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseRuntime, offset, 8)
	}
	return val, nil
}

func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// LengthBytesUTF8 returns the encoded length of s, excluding the terminator.
func LengthBytesUTF8(s string) uint32 {
	return uint32(len(s))
}

// StringToUTF8 writes s null-terminated at ptr using at most maxBytes
// including the terminator. Truncation never splits a multi-byte sequence.
// Returns the number of bytes written excluding the terminator.
func (m *Memory) StringToUTF8(s string, ptr, maxBytes uint32) (uint32, error) {
	if maxBytes == 0 {
		return 0, nil
	}
	n := len(s)
	if uint64(n) > uint64(maxBytes-1) {
		n = int(maxBytes - 1)
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
	}
	buf := make([]byte, n+1)
	copy(buf, s[:n])
	if err := m.Write(ptr, buf); err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// UTF8ToString reads a null-terminated string at ptr. A string running to
// the end of memory without a terminator is an error.
func (m *Memory) UTF8ToString(ptr uint32) (string, error) {
	size := m.Size()
	if ptr >= size {
		return "", errors.OutOfBounds(errors.PhaseRuntime, ptr, 1)
	}
	view, err := m.Read(ptr, size-ptr)
	if err != nil {
		return "", err
	}
	end := bytes.IndexByte(view, 0)
	if end < 0 {
		return "", errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Value(ptr).
			Detail("string at %d is not terminated", ptr).
			Build()
	}
	return string(view[:end]), nil
}
