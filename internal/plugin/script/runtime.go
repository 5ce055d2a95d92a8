package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// DefaultCallTimeout bounds a single call into Lua.
const DefaultCallTimeout = 2 * time.Second

// Runtime errors.
var (
	// ErrStateClosed is returned when calling into a closed runtime.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrCallTimeout is returned when a Lua call exceeds its timeout.
	ErrCallTimeout = errors.New("lua call timed out")
)

// runtime wraps a sandboxed gopher-lua state.
//
// gopher-lua's LState is not goroutine-safe; every access goes through mu.
type runtime struct {
	mu      sync.Mutex
	L       *lua.LState
	timeout time.Duration
	closed  bool
}

// newRuntime creates a state with only the base, table, string and math
// libraries. print is redirected to logger.
func newRuntime(logger *zap.Logger, timeout time.Duration) *runtime {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// No file or module loading
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		logger.Info(strings.Join(parts, "\t"))
		return 0
	}))

	return &runtime{L: L, timeout: timeout}
}

// doFile executes a chunk from disk.
func (r *runtime) doFile(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrStateClosed
	}
	return r.withTimeout(func() error {
		return r.L.DoFile(path)
	})
}

// call invokes a global function and returns its first result converted to
// Go. A missing function is not an error and returns nil. args are built by
// the caller from the locked state.
func (r *runtime) call(name string, args func(L *lua.LState) []lua.LValue) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrStateClosed
	}

	fn := r.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return nil, nil
	}

	var argv []lua.LValue
	if args != nil {
		argv = args(r.L)
	}

	var result any
	err := r.withTimeout(func() error {
		if err := r.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, argv...); err != nil {
			return err
		}
		result = toGo(r.L.Get(-1))
		r.L.Pop(1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return result, nil
}

// registerModule installs a global table of Go functions.
func (r *runtime) registerModule(name string, funcs map[string]lua.LGFunction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.L.SetGlobal(name, r.L.SetFuncs(r.L.NewTable(), funcs))
}

// close releases the state. Safe to call more than once.
func (r *runtime) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.L.Close()
	r.closed = true
}

// withTimeout runs fn with a cancellable context on the state and converts
// panics into errors. Must be called with mu held.
func (r *runtime) withTimeout(fn func() error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	r.L.SetContext(ctx)
	defer r.L.RemoveContext()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("lua panic: %v", rec)
		}
	}()

	err = fn()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrCallTimeout, r.timeout)
	}
	return err
}
