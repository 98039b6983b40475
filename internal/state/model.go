package state

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
)

// Model reads and writes the state of one instance.
//
// Model is not safe for concurrent use; the local executor serializes access.
type Model struct {
	ptr      any
	target   reflect.Value
	schema   *Schema
	validate bool
	log      *zap.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithValidation enables all-or-nothing type checking of patches.
func WithValidation(v bool) Option {
	return func(m *Model) { m.validate = v }
}

// WithLogger sets the model logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Model) { m.log = l }
}

// New builds a model over ptr, which must point to a struct.
func New(ptr any, opts ...Option) (*Model, error) {
	v := reflect.ValueOf(ptr)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, ErrNotStruct
	}
	schema, err := Describe(v.Type())
	if err != nil {
		return nil, err
	}
	m := &Model{ptr: ptr, target: v.Elem(), schema: schema, validate: true}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logger.Or(m.log, "state")
	return m, nil
}

// Validated reports whether patches are type-checked before writing.
func (m *Model) Validated() bool { return m.validate }

// Snapshot copies the current state. Computed keys never shadow fields.
func (m *Model) Snapshot() Snapshot {
	snap := make(Snapshot, len(m.schema.Fields))
	for _, f := range m.schema.Fields {
		snap[f.Name] = clone(m.target.FieldByIndex(f.Index)).Interface()
	}
	if c, ok := m.ptr.(Computer); ok {
		for k, v := range c.ComputedState() {
			if _, exists := snap[k]; !exists {
				snap[k] = v
			}
		}
	}
	return snap
}

// Value returns the current value of one key, computed keys included.
func (m *Model) Value(key string) (any, bool) {
	if f, ok := m.schema.Lookup(key); ok {
		return clone(m.target.FieldByIndex(f.Index)).Interface(), true
	}
	v, ok := m.Snapshot()[key]
	return v, ok
}

// Writable reports whether key names a field a patch may overwrite.
func (m *Model) Writable(key string) bool {
	f, ok := m.schema.Lookup(key)
	return ok && !f.ReadOnly
}

// Diff returns the writable keys of p whose value differs from the current state.
func (m *Model) Diff(p Patch) Patch {
	out := make(Patch)
	for _, k := range p.Keys() {
		f, ok := m.schema.Lookup(k)
		if !ok || f.ReadOnly {
			continue
		}
		if Equal(m.target.FieldByIndex(f.Index).Interface(), p[k]) {
			continue
		}
		out[k] = p[k]
	}
	return out
}

// ApplyPatch writes p onto the instance and returns the keys actually written.
func (m *Model) ApplyPatch(p Patch) (Patch, error) {
	type write struct {
		field Field
		value reflect.Value
	}
	writes := make([]write, 0, len(p))
	applied := make(Patch, len(p))

	for _, k := range p.Keys() {
		f, ok := m.schema.Lookup(k)
		if !ok || f.ReadOnly {
			m.log.Debug("patch key ignored", logger.Key(k), zap.Bool("known", ok))
			continue
		}
		v, err := convert(p[k], f.Type)
		if err != nil {
			if m.validate {
				return nil, &ValidationError{Key: k, Err: err}
			}
			m.log.Warn("patch value skipped", logger.Key(k), logger.Err(err))
			continue
		}
		writes = append(writes, write{field: f, value: v})
		applied[k] = p[k]
	}

	for _, w := range writes {
		m.target.FieldByIndex(w.field.Index).Set(w.value)
	}
	return applied, nil
}

// convert decodes a patch value into a value of type t without weak typing.
func convert(value any, t reflect.Type) (reflect.Value, error) {
	if value == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("null is not a valid %s", t)
	}
	if err := checkIntegral(value, t); err != nil {
		return reflect.Value{}, err
	}

	out := reflect.New(t)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out.Interface(),
		TagName:     "json",
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return reflect.Value{}, err
	}
	if err := dec.Decode(value); err != nil {
		return reflect.Value{}, err
	}
	return out.Elem(), nil
}

// checkIntegral rejects numbers an integer field cannot hold exactly:
// fractions, negatives for unsigned kinds and values out of range. The
// decoder would otherwise truncate or wrap them.
func checkIntegral(value any, t reflect.Type) error {
	signed := false
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		signed = true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
	default:
		return nil
	}
	if n, ok := value.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			value = i
		} else if f, err := n.Float64(); err == nil {
			value = f
		}
	}

	bad := fmt.Errorf("%v is not a valid %s", value, t)
	zero := reflect.New(t).Elem()
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return bad
		}
		if signed {
			if f < math.MinInt64 || f >= math.MaxInt64 || zero.OverflowInt(int64(f)) {
				return bad
			}
			return nil
		}
		if f < 0 || f >= math.MaxUint64 || zero.OverflowUint(uint64(f)) {
			return bad
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := v.Int()
		if signed {
			if zero.OverflowInt(i) {
				return bad
			}
			return nil
		}
		if i < 0 || zero.OverflowUint(uint64(i)) {
			return bad
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if signed {
			if u > math.MaxInt64 || zero.OverflowInt(int64(u)) {
				return bad
			}
			return nil
		}
		if zero.OverflowUint(u) {
			return bad
		}
	}
	return nil
}
