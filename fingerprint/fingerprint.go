// Package fingerprint builds the stable cache key ("query key") that
// identifies a call descriptor: {path, method, options}.
package fingerprint

import (
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
)

// ErrUnsupportedValue is never returned by Build: unsupported kinds (func,
// chan, unsafe pointer) are replaced by a sentinel string rather than
// rejected, so that Build stays total. It is exported for callers that want
// to pre-validate options and reject them earlier in their own pipeline.
var ErrUnsupportedValue = errors.New("fingerprint: unsupported value kind")

const (
	circularSentinel   = "[Circular]"
	unsupportedSentinel = " fn "
)

// CallDescriptor is the input to Build: the logical identity of an
// operation. Path may be a string or a []string of path segments.
type CallDescriptor struct {
	Path    any
	Method  string
	Options map[string]any
}

// Build returns a stable string fingerprint for d. Two descriptors that are
// equal modulo object-key ordering produce byte-identical fingerprints.
// Cyclic option graphs do not panic or loop forever; a cycle is replaced by
// the sentinel "[Circular]".
func Build(d CallDescriptor) string {
	var b strings.Builder
	b.WriteString(canonicalPath(d.Path))
	b.WriteByte('|')
	b.WriteString(strings.ToUpper(d.Method))
	b.WriteByte('|')

	seen := make(map[uintptr]bool)
	encodeValue(&b, reflect.ValueOf(d.Options), seen)
	return b.String()
}

func canonicalPath(path any) string {
	switch v := path.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, "/")
	default:
		out, _ := json.Marshal(v)
		return string(out)
	}
}

// encodeValue writes a canonical, deterministic encoding of v into b.
// Object keys are emitted in ascending code-point order; array order is
// preserved; cycles and unsupported kinds are replaced by sentinels.
func encodeValue(b *strings.Builder, v reflect.Value, seen map[uintptr]bool) {
	if !v.IsValid() {
		b.WriteString("null")
		return
	}

	// Unwrap interfaces.
	for v.Kind() == reflect.Interface {
		if v.IsNil() {
			b.WriteString("null")
			return
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			b.WriteString("null")
			return
		}
		ptr := v.Pointer()
		if seen[ptr] {
			b.WriteString(quote(circularSentinel))
			return
		}
		seen[ptr] = true
		encodeValue(b, v.Elem(), seen)
		delete(seen, ptr)

	case reflect.Map:
		if v.IsNil() {
			b.WriteString("null")
			return
		}
		ptr := v.Pointer()
		if seen[ptr] {
			b.WriteString(quote(circularSentinel))
			return
		}
		seen[ptr] = true
		keys := make([]string, 0, v.Len())
		keyByStr := make(map[string]reflect.Value, v.Len())
		for _, k := range v.MapKeys() {
			ks := toMapKeyString(k)
			keys = append(keys, ks)
			keyByStr[ks] = k
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quote(k))
			b.WriteByte(':')
			encodeValue(b, v.MapIndex(keyByStr[k]), seen)
		}
		b.WriteByte('}')
		delete(seen, ptr)

	case reflect.Struct:
		b.WriteByte('{')
		t := v.Type()
		type field struct {
			name string
			val  reflect.Value
		}
		fields := make([]field, 0, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			fields = append(fields, field{sf.Name, v.Field(i)})
		}
		sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quote(f.name))
			b.WriteByte(':')
			encodeValue(b, f.val, seen)
		}
		b.WriteByte('}')

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			b.WriteString("null")
			return
		}
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeValue(b, v.Index(i), seen)
		}
		b.WriteByte(']')

	case reflect.String:
		b.WriteString(quote(v.String()))

	case reflect.Bool:
		if v.Bool() {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out, _ := json.Marshal(v.Int())
		b.Write(out)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		out, _ := json.Marshal(v.Uint())
		b.Write(out)

	case reflect.Float32, reflect.Float64:
		out, _ := json.Marshal(v.Float())
		b.Write(out)

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		b.WriteString(quote(unsupportedSentinel))

	default:
		out, err := json.Marshal(v.Interface())
		if err != nil {
			b.WriteString(quote(unsupportedSentinel))
			return
		}
		b.Write(out)
	}
}

func toMapKeyString(k reflect.Value) string {
	for k.Kind() == reflect.Interface {
		k = k.Elem()
	}
	if k.Kind() == reflect.String {
		return k.String()
	}
	out, _ := json.Marshal(k.Interface())
	return string(out)
}

func quote(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}
