// Package wasmfixture assembles small WebAssembly binaries for tests. Most
// functions are imported from the host and re-exported, so the host side of
// a test decides what each export does. AllocatingEngine implements its heap
// in guest code instead.
package wasmfixture

// Value type bytes of the binary format.
const (
	I32 byte = 0x7f
	F64 byte = 0x7c
)

// Export kinds.
const (
	KindFunc   byte = 0x00
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
)

// Namespace is the import module the stand-in engine imports its ABI from.
const Namespace = "fixture"

type FuncType struct {
	Params  []byte
	Results []byte
}

type Import struct {
	Module string
	Name   string
	Type   int
}

type Export struct {
	Name  string
	Kind  byte
	Index int
}

// Func is a function defined in the module. Code is the instruction
// sequence without the closing end.
type Func struct {
	Type   int
	Locals []byte
	Code   []byte
}

// Global is a mutable i32 global.
type Global struct {
	Init int32
}

// Module lists the sections Assemble emits. Function indices count the
// imports first, then Funcs.
type Module struct {
	Types   []FuncType
	Imports []Import
	Funcs   []Func
	Globals []Global
	Exports []Export
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

// Assemble builds the binary, with one page of memory at index 0.
func (m Module) Assemble() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	typeSec := uleb(uint32(len(m.Types)))
	for _, ft := range m.Types {
		typeSec = append(typeSec, 0x60)
		typeSec = append(typeSec, uleb(uint32(len(ft.Params)))...)
		typeSec = append(typeSec, ft.Params...)
		typeSec = append(typeSec, uleb(uint32(len(ft.Results)))...)
		typeSec = append(typeSec, ft.Results...)
	}
	out = append(out, section(1, typeSec)...)

	importSec := uleb(uint32(len(m.Imports)))
	for _, im := range m.Imports {
		importSec = append(importSec, name(im.Module)...)
		importSec = append(importSec, name(im.Name)...)
		importSec = append(importSec, KindFunc)
		importSec = append(importSec, uleb(uint32(im.Type))...)
	}
	out = append(out, section(2, importSec)...)

	if len(m.Funcs) > 0 {
		funcSec := uleb(uint32(len(m.Funcs)))
		for _, fn := range m.Funcs {
			funcSec = append(funcSec, uleb(uint32(fn.Type))...)
		}
		out = append(out, section(3, funcSec)...)
	}

	out = append(out, section(5, []byte{0x01, 0x00, 0x01})...)

	if len(m.Globals) > 0 {
		globalSec := uleb(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			globalSec = append(globalSec, I32, 0x01, opI32Const)
			globalSec = append(globalSec, sleb(g.Init)...)
			globalSec = append(globalSec, opEnd)
		}
		out = append(out, section(6, globalSec)...)
	}

	exportSec := uleb(uint32(len(m.Exports)))
	for _, ex := range m.Exports {
		exportSec = append(exportSec, name(ex.Name)...)
		exportSec = append(exportSec, ex.Kind)
		exportSec = append(exportSec, uleb(uint32(ex.Index))...)
	}
	out = append(out, section(7, exportSec)...)

	if len(m.Funcs) > 0 {
		codeSec := uleb(uint32(len(m.Funcs)))
		for _, fn := range m.Funcs {
			body := uleb(uint32(len(fn.Locals)))
			for _, vt := range fn.Locals {
				body = append(body, 0x01, vt)
			}
			body = append(body, fn.Code...)
			body = append(body, opEnd)
			codeSec = append(codeSec, uleb(uint32(len(body)))...)
			codeSec = append(codeSec, body...)
		}
		out = append(out, section(10, codeSec)...)
	}
	return out
}

// Engine is a stand-in Unity engine. Its ABI exports are host functions of
// Namespace: malloc, free, send_message, send_message_string,
// send_message_float, main(argc, argv) and ctors. It also imports WASI
// fd_write and the Emscripten invoke_vi trampoline.
func Engine() []byte {
	types := []FuncType{
		{[]byte{I32}, []byte{I32}},                // 0 malloc
		{[]byte{I32}, nil},                        // 1 free
		{[]byte{I32, I32}, nil},                   // 2 SendMessage, invoke_vi
		{[]byte{I32, I32, I32}, nil},              // 3 SendMessageString
		{[]byte{I32, I32, F64}, nil},              // 4 SendMessageFloat
		{[]byte{I32, I32}, []byte{I32}},           // 5 main(argc, argv)
		{nil, nil},                                // 6 ctors
		{[]byte{I32, I32, I32, I32}, []byte{I32}}, // 7 fd_write
	}
	imports := []Import{
		{Namespace, "malloc", 0},
		{Namespace, "free", 1},
		{Namespace, "send_message", 2},
		{Namespace, "send_message_string", 3},
		{Namespace, "send_message_float", 4},
		{Namespace, "main", 5},
		{Namespace, "ctors", 6},
		{"wasi_snapshot_preview1", "fd_write", 7},
		{"env", "invoke_vi", 2},
	}
	exports := []Export{
		{"memory", KindMemory, 0},
		{"malloc", KindFunc, 0},
		{"free", KindFunc, 1},
		{"SendMessage", KindFunc, 2},
		{"SendMessageString", KindFunc, 3},
		{"SendMessageFloat", KindFunc, 4},
		{"main", KindFunc, 5},
		{"__wasm_call_ctors", KindFunc, 6},
	}
	return Module{Types: types, Imports: imports, Exports: exports}.Assemble()
}

// HeapBase is the first address AllocatingEngine hands out.
const HeapBase = 1024

// Instruction opcodes used by the guest allocator.
const (
	opIf        byte = 0x04
	opEnd       byte = 0x0b
	opReturn    byte = 0x0f
	opLocalGet  byte = 0x20
	opLocalSet  byte = 0x21
	opLocalTee  byte = 0x22
	opGlobalGet byte = 0x23
	opGlobalSet byte = 0x24
	opMemSize   byte = 0x3f
	opI32Const  byte = 0x41
	opI32LtU    byte = 0x49
	opI32GtU    byte = 0x4b
	opI32Add    byte = 0x6a
	opI32And    byte = 0x71
	opI32Or     byte = 0x72
	opI32Shl    byte = 0x74
	blockEmpty  byte = 0x40
)

// AllocatingEngine is Engine with malloc and free implemented in the guest.
// malloc is a bump allocator starting at HeapBase with 8-byte alignment. It
// returns 0 when the request does not fit in the current memory. free only
// counts calls. The globals heap_top and frees expose allocator state.
func AllocatingEngine() []byte {
	types := []FuncType{
		{[]byte{I32}, []byte{I32}},                // 0 malloc
		{[]byte{I32}, nil},                        // 1 free
		{[]byte{I32, I32}, nil},                   // 2 SendMessage, invoke_vi
		{[]byte{I32, I32, I32}, nil},              // 3 SendMessageString
		{[]byte{I32, I32, F64}, nil},              // 4 SendMessageFloat
		{[]byte{I32, I32}, []byte{I32}},           // 5 main(argc, argv)
		{nil, nil},                                // 6 ctors
		{[]byte{I32, I32, I32, I32}, []byte{I32}}, // 7 fd_write
	}
	imports := []Import{
		{Namespace, "send_message", 2},
		{Namespace, "send_message_string", 3},
		{Namespace, "send_message_float", 4},
		{Namespace, "main", 5},
		{Namespace, "ctors", 6},
		{"wasi_snapshot_preview1", "fd_write", 7},
		{"env", "invoke_vi", 2},
	}
	const mallocIdx, freeIdx = 7, 8

	// param 0 is the size and later the new top; local 1 is the result.
	malloc := []byte{
		opGlobalGet, 0x00,
		opLocalSet, 0x01,
		opLocalGet, 0x01,
		opLocalGet, 0x00,
		opI32Add,
		opI32Const, 0x07,
		opI32Add,
		opI32Const, 0x78, // -8
		opI32And,
		opLocalTee, 0x00,
		opMemSize, 0x00,
		opI32Const, 0x10,
		opI32Shl,
		opI32GtU,
		opLocalGet, 0x00,
		opLocalGet, 0x01,
		opI32LtU,
		opI32Or,
		opIf, blockEmpty,
		opI32Const, 0x00,
		opReturn,
		opEnd,
		opLocalGet, 0x00,
		opGlobalSet, 0x00,
		opLocalGet, 0x01,
	}
	free := []byte{
		opGlobalGet, 0x01,
		opI32Const, 0x01,
		opI32Add,
		opGlobalSet, 0x01,
	}

	exports := []Export{
		{"memory", KindMemory, 0},
		{"malloc", KindFunc, mallocIdx},
		{"free", KindFunc, freeIdx},
		{"SendMessage", KindFunc, 0},
		{"SendMessageString", KindFunc, 1},
		{"SendMessageFloat", KindFunc, 2},
		{"main", KindFunc, 3},
		{"__wasm_call_ctors", KindFunc, 4},
		{"heap_top", KindGlobal, 0},
		{"frees", KindGlobal, 1},
	}
	return Module{
		Types:   types,
		Imports: imports,
		Funcs: []Func{
			{Type: 0, Locals: []byte{I32}, Code: malloc},
			{Type: 1, Code: free},
		},
		Globals: []Global{{Init: HeapBase}, {Init: 0}},
		Exports: exports,
	}.Assemble()
}
