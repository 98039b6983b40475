package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/ln64-git/dynamic-server-app-template/internal/instance"
	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
)

// DefaultReserved are names the server routes claim for themselves.
var DefaultReserved = []string{"state", "health", "metrics"}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Descriptor describes one published operation.
type Descriptor struct {
	Name     string   `json:"name"`
	Method   string   `json:"method"`
	Params   []string `json:"params"`
	Variadic bool     `json:"variadic,omitempty"`
}

// Arity is the number of JSON arguments the operation takes (the variadic
// tail counts as one).
func (d Descriptor) Arity() int { return len(d.Params) }

type operation struct {
	desc   Descriptor
	fn     reflect.Value
	params []reflect.Type
	hasCtx bool
	valOut int
	errOut int
}

// Table is the frozen set of operations of one instance.
type Table struct {
	ops   map[string]*operation
	names []string
}

type config struct {
	exclude  map[string]struct{}
	reserved map[string]struct{}
	log      *zap.Logger
}

// Option configures Publish.
type Option func(*config)

// WithExclude keeps additional method names out of the table.
func WithExclude(methods ...string) Option {
	return func(c *config) {
		for _, m := range methods {
			c.exclude[m] = struct{}{}
		}
	}
}

// WithReserved replaces the reserved operation names.
func WithReserved(names ...string) Option {
	return func(c *config) {
		c.reserved = make(map[string]struct{}, len(names))
		for _, n := range names {
			c.reserved[n] = struct{}{}
		}
	}
}

// WithLogger sets the logger used while publishing.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.log = l }
}

// Publish builds the operation table of target, usually a pointer to an
// instance struct.
func Publish(target any, opts ...Option) (*Table, error) {
	v := reflect.ValueOf(target)
	if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return nil, fmt.Errorf("dispatch: cannot publish %T", target)
	}

	cfg := &config{exclude: make(map[string]struct{})}
	WithReserved(DefaultReserved...)(cfg)
	for _, opt := range opts {
		opt(cfg)
	}
	log := logger.Or(cfg.log, "dispatch")

	lifecycle := instance.LifecycleMethods()
	t := v.Type()
	table := &Table{ops: make(map[string]*operation)}

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if _, ok := lifecycle[m.Name]; ok {
			continue
		}
		if _, ok := cfg.exclude[m.Name]; ok {
			continue
		}
		name := operationName(m.Name)
		if _, ok := cfg.reserved[name]; ok {
			log.Warn("method shadows a reserved route, not published", logger.Op(name))
			continue
		}
		op, err := newOperation(name, m.Name, v.Method(i))
		if err != nil {
			log.Warn("method not published", logger.Op(name), logger.Err(err))
			continue
		}
		table.ops[name] = op
		table.names = append(table.names, name)
	}
	slices.Sort(table.names)

	log.Debug("operations published", zap.Strings("ops", table.names))
	return table, nil
}

func newOperation(name, method string, fn reflect.Value) (*operation, error) {
	ft := fn.Type()
	op := &operation{fn: fn, valOut: -1, errOut: -1}

	start := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		op.hasCtx = true
		start = 1
	}
	for i := start; i < ft.NumIn(); i++ {
		p := ft.In(i)
		if !decodable(p) {
			return nil, fmt.Errorf("parameter %d of type %s cannot be decoded from JSON", i, p)
		}
		op.params = append(op.params, p)
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			op.errOut = 0
		} else {
			op.valOut = 0
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("second result must be error, got %s", ft.Out(1))
		}
		op.valOut, op.errOut = 0, 1
	default:
		return nil, fmt.Errorf("too many results (%d)", ft.NumOut())
	}

	op.desc = Descriptor{Name: name, Method: method, Variadic: ft.IsVariadic()}
	for _, p := range op.params {
		op.desc.Params = append(op.desc.Params, p.String())
	}
	return op, nil
}

func decodable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	}
	return true
}

func operationName(method string) string {
	r, size := utf8.DecodeRuneInString(method)
	return string(unicode.ToLower(r)) + method[size:]
}

// Names returns the published operation names in sorted order.
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// Describe returns the descriptors of all operations, sorted by name.
func (t *Table) Describe() []Descriptor {
	out := make([]Descriptor, 0, len(t.names))
	for _, n := range t.names {
		out = append(out, t.ops[n].desc)
	}
	return out
}

// Lookup returns the descriptor of one operation.
func (t *Table) Lookup(name string) (Descriptor, bool) {
	op, ok := t.ops[name]
	if !ok {
		return Descriptor{}, false
	}
	return op.desc, true
}

// Invoke runs operation name with JSON-encoded arguments. Unknown names fail
// with *NotFoundError; every other failure, panics included, is an
// *ExecutionError.
func (t *Table) Invoke(ctx context.Context, name string, args []json.RawMessage) (result any, err error) {
	op, ok := t.ops[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	in, err := op.arguments(ctx, args)
	if err != nil {
		return nil, &ExecutionError{Name: name, Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &ExecutionError{Name: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out := op.fn.Call(in)

	if op.errOut >= 0 && !out[op.errOut].IsNil() {
		return nil, &ExecutionError{Name: name, Err: out[op.errOut].Interface().(error)}
	}
	if op.valOut >= 0 {
		return out[op.valOut].Interface(), nil
	}
	return nil, nil
}

func (op *operation) arguments(ctx context.Context, args []json.RawMessage) ([]reflect.Value, error) {
	n := len(op.params)
	variadic := op.desc.Variadic
	if (!variadic && len(args) != n) || (variadic && len(args) < n-1) {
		want := fmt.Sprint(n)
		if variadic {
			want = fmt.Sprintf("at least %d", n-1)
		}
		return nil, fmt.Errorf("%w: expects %s, got %d", ErrArity, want, len(args))
	}

	in := make([]reflect.Value, 0, len(args)+1)
	if op.hasCtx {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, raw := range args {
		var pt reflect.Type
		if variadic && i >= n-1 {
			pt = op.params[n-1].Elem()
		} else {
			pt = op.params[i]
		}
		v := reflect.New(pt)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, v.Interface()); err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
		}
		in = append(in, v.Elem())
	}
	return in, nil
}
