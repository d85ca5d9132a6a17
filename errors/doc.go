// Package errors provides structured error types for the Unity engine host.
//
// Errors are categorized by Phase (where in the host lifecycle the error occurred)
// and Kind (error category). The Error type carries the offending path or value,
// a Go type name for argument errors, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseFilesystem, errors.KindInvalidData).
//		Path("idbfs", "save.dat").
//		Detail("entry mode %o is not a regular file", mode).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Initialization("create graphics context", cause)
//	err := errors.UnsupportedArgument("[]uint8")
//
// All errors implement the standard error interface and support errors.Is/As.
// Is matches on Phase and Kind, so a bare &Error{Phase, Kind} works as a target.
package errors
