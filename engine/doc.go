// Package engine loads an Emscripten-built engine binary into wazero.
//
// The package provides three main types:
//
//	Engine   - owns the wazero runtime
//	Module   - a compiled engine binary with its import and export lists
//	Instance - a running engine exposing the host ABI
//
// # Instantiation Flow
//
//  1. Engine.LoadModule() compiles the binary
//  2. Module.MissingImports() reports imports nothing will satisfy
//  3. Module.Instantiate() links WASI, the "env" host module and any other
//     registered namespaces, then instantiates the guest without running
//     start functions
//  4. Instance.CallInit() and Instance.CallMain() start the engine
//
// # Host Functions
//
// Host functions are registered on a HostRegistry by namespace and name.
// Typed Go functions are accepted with the parameter and result types
// wazero supports (int32, uint32, int64, uint64, float32, float64), optionally
// preceded by context.Context and api.Module. Struct hosts register every
// exported method under its snake_case name:
//
//	EmscriptenGetNow -> emscripten_get_now
//
// The "env" namespace is extended with the Emscripten invoke_* trampolines
// the guest imports.
//
// # Engine ABI
//
// Strings cross the boundary as null-terminated UTF-8 in linear memory,
// allocated with the engine's exported malloc and released with free:
//
//	ptr, _ := inst.Malloc(ctx, inst.LengthBytesUTF8(s)+1)
//	inst.StringToUTF8(s, ptr, inst.LengthBytesUTF8(s)+1)
//	defer inst.Free(ctx, ptr)
//
// # Thread Safety
//
// Engine and Module are safe for concurrent use. An Instance must be driven
// by one goroutine at a time; message.Sender serializes callers.
//
// # Known Limitations
//
// Only one Instance per Engine may be live at a time because the guest
// imports a host module named "env" and module names are unique within a
// wazero runtime. Imported memories and tables are not supported.
package engine
