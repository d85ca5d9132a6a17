// Package unityhost runs Unity WebAssembly builds (Emscripten output) on
// wazero, standing in for the JavaScript bootstrap a web page would load.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	unityhost/
//	├── loader/      Initialization sequence and the sendMessage call-in API
//	├── module/      Configuration object: output sinks, hooks, run dependencies
//	├── env/         Hosting context detection and script directory resolution
//	├── ready/       One-shot readiness signal
//	├── engine/      wazero integration: host imports, memory, entry points
//	├── message/     sendMessage argument marshaling
//	├── fsys/        Virtual filesystem with persistent mounts
//	├── storage/     Stores backing persistent mounts (memory, SQLite)
//	├── webdata/     UnityWebData1.0 data packages
//	├── asset/       Engine binary reading and decompression
//	├── gl/          Graphics context factory
//	├── audio/       Audio context
//	├── handle/      Handle table for host-side objects
//	├── bridge/      WebSocket call-in surface
//	├── config/      TOML settings file
//	├── logging/     zap logger construction
//	└── errors/      Structured error types
//
// # Quick Start
//
//	l := loader.New(
//	    loader.WithEnginePath("Build/game.wasm.br"),
//	    loader.WithDataPath("Build/game.data", "/"),
//	)
//	defer l.Close(ctx)
//
//	if err := l.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	err := l.SendMessageAny(ctx, "Player", "SetScore", 42)
//
// # Host Functions
//
// Engine imports the loader does not answer itself are supplied as Go
// functions:
//
//	loader.WithHostFunc("env", "JS_Device_GetBattery", func() float64 {
//	    return 1
//	})
//
// # Thread Safety
//
// A Loader is driven from one goroutine at a time; SendMessage calls are
// serialized. The engine is not interrupted by context cancellation, so a
// context only bounds the wait for run dependencies before main.
package unityhost
