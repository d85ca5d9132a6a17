package engine

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/unity-host/errors"
)

// EnvNamespace is the module name Emscripten imports host functions from.
const EnvNamespace = "env"

// Host is the interface for struct-based host modules.
// All exported methods (except Namespace) are registered as host functions.
type Host interface {
	// Namespace returns the import module name (e.g., "env").
	Namespace() string
}

// ExplicitRegistrar allows hosts to provide exact import names when
// snake_case conversion doesn't apply (e.g., "JS_Sound_Init").
type ExplicitRegistrar interface {
	Register() map[string]any
}

// HostFunc is one registered host function. Typed handlers are bound with
// wazero's reflection; raw handlers carry an explicit signature.
type HostFunc struct {
	Handler any
	Raw     api.GoModuleFunc
	Params  []api.ValueType
	Results []api.ValueType
}

type HostRegistry struct {
	funcs map[string]map[string]*HostFunc
	mu    sync.RWMutex
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs: make(map[string]map[string]*HostFunc),
	}
}

func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseLink, "namespace cannot be empty")
	}

	if er, ok := h.(ExplicitRegistrar); ok {
		for name, handler := range er.Register() {
			if err := r.RegisterFunc(ns, name, handler); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()

	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}
		if err := r.RegisterFunc(ns, toSnakeCase(method.Name), rv.Method(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFunc registers a typed Go function. Parameters may start with
// context.Context and api.Module; the rest, and all results, must be
// 32 or 64-bit integers or floats.
func (r *HostRegistry) RegisterFunc(namespace, name string, fn any) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseLink, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseLink, "function name cannot be empty")
	}
	if err := checkSignature(fn); err != nil {
		return errors.Registration(errors.PhaseLink, namespace, name, err)
	}

	r.set(namespace, name, &HostFunc{Handler: fn})
	return nil
}

// RegisterRaw registers a stack-based function with an explicit signature.
func (r *HostRegistry) RegisterRaw(namespace, name string, fn api.GoModuleFunc, params, results []api.ValueType) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseLink, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseLink, "function name cannot be empty")
	}
	if fn == nil {
		return errors.Registration(errors.PhaseLink, namespace, name, fmt.Errorf("nil handler"))
	}

	r.set(namespace, name, &HostFunc{Raw: fn, Params: params, Results: results})
	return nil
}

func (r *HostRegistry) set(namespace, name string, hf *HostFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[namespace] == nil {
		r.funcs[namespace] = make(map[string]*HostFunc)
	}
	if _, exists := r.funcs[namespace][name]; exists {
		Logger().Debug("host function replaced",
			zap.String("namespace", namespace),
			zap.String("name", name))
	}
	r.funcs[namespace][name] = hf
}

// Has reports whether namespace#name is registered.
func (r *HostRegistry) Has(namespace, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[namespace][name]
	return ok
}

// Namespaces returns the registered namespaces, sorted.
func (r *HostRegistry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for ns := range r.funcs {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Names returns the function names registered under namespace, sorted.
func (r *HostRegistry) Names(namespace string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs[namespace]))
	for name := range r.funcs[namespace] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Bind exports every function of namespace on builder.
func (r *HostRegistry) Bind(namespace string, builder wazero.HostModuleBuilder) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, hf := range r.funcs[namespace] {
		fb := builder.NewFunctionBuilder()
		if hf.Raw != nil {
			fb = fb.WithGoModuleFunction(hf.Raw, hf.Params, hf.Results)
		} else {
			fb = fb.WithFunc(hf.Handler)
		}
		fb.Export(name)
	}
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	moduleType  = reflect.TypeOf((*api.Module)(nil)).Elem()
)

func checkSignature(fn any) error {
	if fn == nil {
		return fmt.Errorf("handler must be a function, got nil")
	}
	ft := reflect.TypeOf(fn)
	if ft.Kind() != reflect.Func {
		return fmt.Errorf("handler must be a function, got %s", ft)
	}
	if ft.IsVariadic() {
		return fmt.Errorf("variadic handler %s", ft)
	}

	i := 0
	if i < ft.NumIn() && ft.In(i) == contextType {
		i++
	}
	if i < ft.NumIn() && ft.In(i) == moduleType {
		i++
	}
	for ; i < ft.NumIn(); i++ {
		if !isWasmScalar(ft.In(i)) {
			return fmt.Errorf("parameter %d has unsupported type %s", i, ft.In(i))
		}
	}
	for j := 0; j < ft.NumOut(); j++ {
		if !isWasmScalar(ft.Out(j)) {
			return fmt.Errorf("result %d has unsupported type %s", j, ft.Out(j))
		}
	}
	return nil
}

func isWasmScalar(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32, reflect.Int64, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Uintptr:
		return true
	default:
		return false
	}
}
