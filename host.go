package stitch

import (
	"fmt"
	"math"
	"reflect"
	"runtime"
	"strings"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// Caller is the first parameter of a host function. It gives access to the Store the call runs on, which may be used
// to call other functions, including those of the instance that called the host function.
type Caller struct {
	store *Store
}

// Store returns the store of the call in progress.
func (c *Caller) Store() *Store {
	return c.store
}

// HostFunc implements a function with params and results typed dynamically. results has the length of the result
// types and is initialised with their zero values.
type HostFunc func(caller *Caller, args []Val, results []Val) error

// NewHostFunc allocates a host function of type ft in store. Each result fn writes must have its declared type,
// otherwise the call fails with ErrResultTypeMismatch.
func NewHostFunc(store *Store, ft FuncType, fn HostFunc) Func {
	t := ft.internal()
	params, results := t.Params(), t.Results()
	name := goFuncName(reflect.ValueOf(fn))
	host := func(s *wasm.Store, w wasm.StackWindow) error {
		id := s.ID()
		args := make([]Val, len(params))
		for i, p := range params {
			args[i] = valFromRaw(id, ValType(p), w.Get(i))
		}
		res := make([]Val, len(results))
		for i, r := range results {
			res[i] = DefaultVal(ValType(r))
		}
		if err := fn(&Caller{store: store}, args, res); err != nil {
			return err
		}
		for i, r := range results {
			if res[i].typ != ValType(r) {
				return &FuncError{Func: name, Err: fmt.Errorf("%w: result[%d] expected %s, but was %s",
					ErrResultTypeMismatch, i, ValType(r), res[i].typ)}
			}
			w.Set(i, res[i].raw(s))
		}
		return nil
	}
	return Func{h: store.s.NewHostFunction(t, name, host)}
}

// Below is reflection code to derive a FuncType from a Go func signature.

var (
	callerType    = reflect.TypeOf((*Caller)(nil))
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	funcRefType   = reflect.TypeOf(FuncRef{})
	externRefType = reflect.TypeOf(ExternRef{})
)

// WrapFunc allocates a host function in store implemented by fn, a Go func whose signature gives the FuncType:
//
//   - int32 and uint32 are i32, int64 and uint64 are i64, float32 is f32 and float64 is f64.
//   - FuncRef is funcref and ExternRef is externref.
//   - An optional leading *Caller param is not part of the FuncType.
//   - An optional trailing error result is not part of the FuncType. When non-nil it is returned by the outermost
//     Func.Call unchanged.
//
// For example, func(*Caller, int32, int32) (int32, error) is "(i32, i32) -> i32".
func WrapFunc(store *Store, fn any) (Func, error) {
	v := reflect.ValueOf(fn)
	name := goFuncName(v)
	ft, hasCaller, hasErr, err := goFuncType(name, v)
	if err != nil {
		return Func{}, err
	}
	params, results := ft.Params(), ft.Results()
	pOffset := 0
	if hasCaller {
		pOffset = 1
	}
	fnType := v.Type()
	host := func(s *wasm.Store, w wasm.StackWindow) error {
		id := s.ID()
		in := make([]reflect.Value, len(params)+pOffset)
		if hasCaller {
			in[0] = reflect.ValueOf(&Caller{store: store})
		}
		for i, p := range params {
			in[i+pOffset] = goValue(fnType.In(i+pOffset), valFromRaw(id, ValType(p), w.Get(i)))
		}
		out := v.Call(in)
		if hasErr {
			if e := out[len(out)-1]; !e.IsNil() {
				return e.Interface().(error)
			}
		}
		for i := range results {
			w.Set(i, rawOf(out[i], s))
		}
		return nil
	}
	return Func{h: store.s.NewHostFunction(ft, name, host)}, nil
}

// goFuncType returns the function type corresponding to the function signature or errs if invalid.
func goFuncType(name string, fn reflect.Value) (ft *wasm.FunctionType, hasCaller, hasErr bool, err error) {
	if fn.Kind() != reflect.Func {
		err = fmt.Errorf("%s is a %s, but should be a Func", name, fn.Kind())
		return
	}
	p := fn.Type()
	if p.IsVariadic() {
		err = fmt.Errorf("%s is variadic", name)
		return
	}

	pOffset := 0
	if p.NumIn() > 0 && p.In(0) == callerType {
		hasCaller = true
		pOffset = 1
	}
	rCount := p.NumOut()
	if rCount > 0 && p.Out(rCount-1) == errorType {
		hasErr = true
		rCount--
	}

	params := make([]wasm.ValueType, p.NumIn()-pOffset)
	for i := range params {
		pI := p.In(i + pOffset)
		t, ok := valTypeOf(pI)
		if ok {
			params[i] = t
			continue
		}
		if pI == callerType {
			err = fmt.Errorf("%s param[%d] is a %s, which may be defined only once as param[0]", name, i+pOffset, pI)
		} else {
			err = fmt.Errorf("%s param[%d] is unsupported: %s", name, i+pOffset, pI)
		}
		return
	}

	results := make([]wasm.ValueType, rCount)
	for i := range results {
		rI := p.Out(i)
		t, ok := valTypeOf(rI)
		if ok {
			results[i] = t
			continue
		}
		if rI == errorType {
			err = fmt.Errorf("%s result[%d] is an error, which may be defined only once as the last result", name, i)
		} else {
			err = fmt.Errorf("%s result[%d] is unsupported: %s", name, i, rI)
		}
		return
	}
	ft = wasm.NewFunctionType(params, results)
	return
}

func valTypeOf(t reflect.Type) (wasm.ValueType, bool) {
	switch t {
	case funcRefType:
		return wasm.ValueTypeFuncref, true
	case externRefType:
		return wasm.ValueTypeExternref, true
	}
	switch t.Kind() {
	case reflect.Float64:
		return wasm.ValueTypeF64, true
	case reflect.Float32:
		return wasm.ValueTypeF32, true
	case reflect.Int32, reflect.Uint32:
		return wasm.ValueTypeI32, true
	case reflect.Int64, reflect.Uint64:
		return wasm.ValueTypeI64, true
	default:
		return 0x00, false
	}
}

// goValue converts v to the Go type t, which passed valTypeOf.
func goValue(t reflect.Type, v Val) reflect.Value {
	switch t {
	case funcRefType:
		return reflect.ValueOf(v.FuncRef())
	case externRefType:
		return reflect.ValueOf(v.ExternRef())
	}
	ret := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Int32:
		ret.SetInt(int64(v.I32()))
	case reflect.Uint32:
		ret.SetUint(uint64(uint32(v.I32())))
	case reflect.Int64:
		ret.SetInt(v.I64())
	case reflect.Uint64:
		ret.SetUint(uint64(v.I64()))
	case reflect.Float32:
		ret.SetFloat(float64(v.F32()))
	case reflect.Float64:
		ret.SetFloat(v.F64())
	}
	return ret
}

// rawOf returns the slot encoding of a Go value whose type passed valTypeOf.
func rawOf(v reflect.Value, s *wasm.Store) uint64 {
	switch v.Type() {
	case funcRefType:
		return ValFuncRef(v.Interface().(FuncRef)).raw(s)
	case externRefType:
		return ValExternRef(v.Interface().(ExternRef)).raw(s)
	}
	switch v.Kind() {
	case reflect.Int32:
		return uint64(uint32(v.Int()))
	case reflect.Uint32, reflect.Uint64:
		return v.Uint()
	case reflect.Int64:
		return uint64(v.Int())
	case reflect.Float32:
		return uint64(math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		return math.Float64bits(v.Float())
	}
	panic(fmt.Errorf("BUG: unsupported host value %s", v.Type()))
}

// goFuncName returns the name of the Go func without its import path, ex. "stitch.TestCall.func1".
func goFuncName(v reflect.Value) string {
	if v.Kind() != reflect.Func {
		return "host"
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "host"
	}
	name := f.Name()
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
