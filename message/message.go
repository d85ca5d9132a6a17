// Package message marshals sendMessage calls into the engine. A call names a
// target object, a method, and at most one argument; the argument's shape
// picks one of three engine entry points.
package message

import (
	"context"
	"fmt"
	"sync"

	"github.com/wippyai/unity-host/errors"
)

// Kind is the shape of a sendMessage argument.
type Kind uint8

const (
	KindNone Kind = iota
	KindText
	KindNumber
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Argument is a tagged sendMessage argument. The zero value is None.
type Argument struct {
	text   string
	number float64
	kind   Kind
}

func None() Argument { return Argument{kind: KindNone} }

func Text(s string) Argument { return Argument{kind: KindText, text: s} }

func Number(v float64) Argument { return Argument{kind: KindNumber, number: v} }

func (a Argument) Kind() Kind { return a.kind }

// Text returns the string payload of a Text argument.
func (a Argument) Text() string { return a.text }

// Number returns the payload of a Number argument.
func (a Argument) Number() float64 { return a.number }

func (a Argument) String() string {
	switch a.kind {
	case KindText:
		return fmt.Sprintf("%q", a.text)
	case KindNumber:
		return fmt.Sprintf("%g", a.number)
	default:
		return "none"
	}
}

// FromAny converts a dynamically typed value. nil is None, strings are
// Text, and every Go integer and float type is a Number.
func FromAny(v any) (Argument, error) {
	switch x := v.(type) {
	case nil:
		return None(), nil
	case Argument:
		return x, nil
	case string:
		return Text(x), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int8:
		return Number(float64(x)), nil
	case int16:
		return Number(float64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint:
		return Number(float64(x)), nil
	case uint8:
		return Number(float64(x)), nil
	case uint16:
		return Number(float64(x)), nil
	case uint32:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	default:
		return Argument{}, errors.UnsupportedArgument(fmt.Sprintf("%T", v))
	}
}

// ABI is the engine surface a call goes through.
type ABI interface {
	Malloc(ctx context.Context, size uint32) (uint32, error)
	Free(ctx context.Context, ptr uint32) error
	LengthBytesUTF8(s string) uint32
	StringToUTF8(s string, ptr, maxBytes uint32) (uint32, error)

	SendMessage(ctx context.Context, obj, method uint32) error
	SendMessageString(ctx context.Context, obj, method, arg uint32) error
	SendMessageFloat(ctx context.Context, obj, method uint32, arg float64) error
}

// Send invokes method on the engine object named target. The argument kind
// is checked before anything is allocated. Every buffer allocated for the
// call is freed before Send returns, whether or not dispatch succeeded.
func Send(ctx context.Context, abi ABI, target, method string, arg Argument) (err error) {
	switch arg.kind {
	case KindNone, KindText, KindNumber:
	default:
		return errors.UnsupportedArgument(arg.kind.String())
	}
	if abi == nil {
		return errors.NotInitialized(errors.PhaseMessage, "engine")
	}

	var allocated []uint32
	defer func() {
		for i := len(allocated) - 1; i >= 0; i-- {
			if ferr := abi.Free(ctx, allocated[i]); ferr != nil && err == nil {
				err = errors.Wrap(errors.PhaseMessage, errors.KindAllocation, ferr, "free")
			}
		}
	}()

	alloc := func(s string) (uint32, error) {
		size := abi.LengthBytesUTF8(s) + 1
		ptr, err := abi.Malloc(ctx, size)
		if err != nil {
			return 0, errors.AllocationFailed(errors.PhaseMessage, size, err)
		}
		if ptr == 0 {
			return 0, errors.AllocationFailed(errors.PhaseMessage, size, nil)
		}
		allocated = append(allocated, ptr)
		if _, err := abi.StringToUTF8(s, ptr, size); err != nil {
			return 0, err
		}
		return ptr, nil
	}

	objPtr, err := alloc(target)
	if err != nil {
		return err
	}
	methodPtr, err := alloc(method)
	if err != nil {
		return err
	}

	switch arg.kind {
	case KindText:
		argPtr, err := alloc(arg.text)
		if err != nil {
			return err
		}
		err = abi.SendMessageString(ctx, objPtr, methodPtr, argPtr)
		return dispatchErr("SendMessageString", target, method, err)
	case KindNumber:
		err = abi.SendMessageFloat(ctx, objPtr, methodPtr, arg.number)
		return dispatchErr("SendMessageFloat", target, method, err)
	default:
		err = abi.SendMessage(ctx, objPtr, methodPtr)
		return dispatchErr("SendMessage", target, method, err)
	}
}

func dispatchErr(entry, target, method string, err error) error {
	if err == nil {
		return nil
	}
	return errors.New(errors.PhaseMessage, errors.KindInvalidInput).
		Path(target, method).
		Detail("%s failed", entry).
		Cause(err).
		Build()
}

// Sender serializes calls into one engine instance. The engine heap has a
// single holder, so concurrent callers queue.
type Sender struct {
	abi ABI
	mu  sync.Mutex
}

func NewSender(abi ABI) *Sender {
	return &Sender{abi: abi}
}

// Send is the serialized form of the package-level Send.
func (s *Sender) Send(ctx context.Context, target, method string, arg Argument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Send(ctx, s.abi, target, method, arg)
}

// SendAny converts v with FromAny and sends it.
func (s *Sender) SendAny(ctx context.Context, target, method string, v any) error {
	arg, err := FromAny(v)
	if err != nil {
		return err
	}
	return s.Send(ctx, target, method, arg)
}
