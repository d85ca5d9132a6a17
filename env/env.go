// Package env detects the context the engine is hosted in and resolves the
// directory build artefacts are located relative to.
package env

import (
	"os"
	"path/filepath"
	"strings"
)

// Names of the ambient globals probed by Detect, and of the host values
// ScriptDirectory reads.
const (
	GlobalWindow        = "window"
	GlobalImportScripts = "importScripts"
	GlobalProcess       = "process"

	ValueCurrentScript = "document.currentScript.src"
	ValueLocation      = "self.location.href"
	ValueDirname       = "__dirname"
)

// Descriptor records which hosting context was detected. It is computed
// once and never changes; in practice at most one flag holds.
type Descriptor struct {
	Page   bool
	Worker bool
	Server bool
}

// None reports whether no hosting context was recognised.
func (d Descriptor) None() bool {
	return !d.Page && !d.Worker && !d.Server
}

func (d Descriptor) String() string {
	var parts []string
	if d.Page {
		parts = append(parts, "page")
	}
	if d.Worker {
		parts = append(parts, "worker")
	}
	if d.Server {
		parts = append(parts, "server")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Probe answers presence checks against the ambient globals.
type Probe interface {
	Has(name string) bool
}

// Detect computes the descriptor. The three flags are independent tests.
func Detect(p Probe) Descriptor {
	if p == nil {
		return Descriptor{}
	}
	return Descriptor{
		Page:   p.Has(GlobalWindow),
		Worker: p.Has(GlobalImportScripts),
		Server: p.Has(GlobalProcess),
	}
}

// Globals is a map-backed Probe that also carries the host values used for
// path resolution. A name is present when it is a key, whatever its value.
type Globals map[string]string

// Has implements Probe.
func (g Globals) Has(name string) bool {
	_, ok := g[name]
	return ok
}

// Value returns a host value, or "" when absent.
func (g Globals) Value(name string) string {
	return g[name]
}

// HostGlobals describes a native process: a server-side context whose
// directory is the one holding the running executable.
func HostGlobals() Globals {
	dir := ""
	if exe, err := os.Executable(); err == nil {
		dir = filepath.Dir(exe)
	} else if wd, err := os.Getwd(); err == nil {
		dir = wd
	}
	return Globals{
		GlobalProcess: "",
		ValueDirname:  filepath.ToSlash(dir),
	}
}

// ScriptDirectory resolves the base path build artefacts are located
// against. Worker location wins over the page script, which wins over the
// server directory; with no context detected the result is empty.
func ScriptDirectory(d Descriptor, g Globals) string {
	switch {
	case d.Worker:
		return urlDirectory(g.Value(ValueLocation))
	case d.Page:
		return urlDirectory(g.Value(ValueCurrentScript))
	case d.Server:
		dir := g.Value(ValueDirname)
		if dir == "" {
			return ""
		}
		return strings.TrimSuffix(dir, "/") + "/"
	default:
		return ""
	}
}

// urlDirectory keeps everything up to and including the last slash.
// Blob URLs have no meaningful directory.
func urlDirectory(src string) string {
	if src == "" || strings.HasPrefix(src, "blob:") {
		return ""
	}
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	i := strings.LastIndexByte(src, '/')
	if i < 0 {
		return ""
	}
	return src[:i+1]
}
