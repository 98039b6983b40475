package state

import (
	"reflect"
	"strings"
	"sync"
)

// Field is one state key of a schema.
type Field struct {
	Name     string
	Index    []int
	Type     reflect.Type
	ReadOnly bool
}

// Schema is the ordered set of state fields of a struct type.
type Schema struct {
	Type   reflect.Type
	Fields []Field
	byName map[string]int
}

// Lookup returns the field named key.
func (s *Schema) Lookup(key string) (Field, bool) {
	i, ok := s.byName[key]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Names returns the field names in declaration order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

var schemas sync.Map // reflect.Type -> *Schema

// Describe returns the schema of struct type t (or pointer to it).
func Describe(t reflect.Type) (*Schema, error) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, ErrNotStruct
	}
	if s, ok := schemas.Load(t); ok {
		return s.(*Schema), nil
	}

	s := &Schema{Type: t, byName: make(map[string]int)}
	depths := make(map[string]int)
	var walk func(t reflect.Type, index []int, depth int)
	walk = func(t reflect.Type, index []int, depth int) {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			idx := append(append([]int(nil), index...), i)

			name, readOnly, skip, named := parseTags(sf)
			if skip {
				continue
			}
			if sf.Anonymous && !named && sf.Type.Kind() == reflect.Struct {
				walk(sf.Type, idx, depth+1)
				continue
			}
			if !sf.IsExported() || !stateKind(sf.Type) {
				continue
			}

			if d, taken := depths[name]; taken {
				if d <= depth {
					continue
				}
				// A shallower field shadows the deeper one.
				s.Fields[s.byName[name]] = Field{Name: name, Index: idx, Type: sf.Type, ReadOnly: readOnly}
				depths[name] = depth
				continue
			}
			depths[name] = depth
			s.byName[name] = len(s.Fields)
			s.Fields = append(s.Fields, Field{Name: name, Index: idx, Type: sf.Type, ReadOnly: readOnly})
		}
	}
	walk(t, nil, 0)

	actual, _ := schemas.LoadOrStore(t, s)
	return actual.(*Schema), nil
}

// parseTags resolves the state key of a struct field. named reports an
// explicit name, which stops embedded structs from being flattened.
func parseTags(sf reflect.StructField) (name string, readOnly, skip, named bool) {
	jsonName, jsonSkip := tagName(sf.Tag.Get("json"))
	stateTag := sf.Tag.Get("state")
	if stateTag == "-" {
		return "", false, true, false
	}

	parts := strings.Split(stateTag, ",")
	for _, opt := range parts[1:] {
		if strings.TrimSpace(opt) == "readonly" {
			readOnly = true
		}
	}

	switch {
	case strings.TrimSpace(parts[0]) != "":
		return strings.TrimSpace(parts[0]), readOnly, false, true
	case jsonSkip:
		return "", false, true, false
	case jsonName != "":
		return jsonName, readOnly, false, true
	default:
		return sf.Name, readOnly, false, false
	}
}

func tagName(tag string) (name string, skip bool) {
	if tag == "-" {
		return "", true
	}
	name, _, _ = strings.Cut(tag, ",")
	return name, false
}

// stateKind rejects callables and other values that cannot be serialized.
func stateKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return false
	}
	return true
}
