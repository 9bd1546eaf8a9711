package socket

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Encode renders data to the bytes queued by Send.
//
// Byte slices and strings are taken as is. Other values get a canonical UTF-8 text form:
// numbers in their shortest form (3.1416, 1.0), maps as {'a': 1, 'b': 2} with sorted keys,
// slices as [1, 2], nil as None.
func Encode(data any) []byte {
	switch v := data.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}

	var builder strings.Builder
	render(&builder, data, false)
	return []byte(builder.String())
}

func render(b *strings.Builder, data any, nested bool) {
	// a nil pointer may still satisfy fmt.Stringer or error.
	if rv := reflect.ValueOf(data); rv.Kind() == reflect.Pointer && rv.IsNil() {
		b.WriteString("None")
		return
	}

	switch v := data.(type) {
	case nil:
		b.WriteString("None")
		return
	case string:
		if nested {
			b.WriteString(quote(v))
		} else {
			b.WriteString(v)
		}
		return
	case []byte:
		if nested {
			b.WriteString(quote(string(v)))
		} else {
			b.Write(v)
		}
		return
	case fmt.Stringer:
		b.WriteString(call(data, v.String))
		return
	case error:
		b.WriteString(call(data, v.Error))
		return
	case bool:
		b.WriteString(strconv.FormatBool(v))
		return
	case float32:
		b.WriteString(formatFloat(float64(v), 32))
		return
	case float64:
		b.WriteString(formatFloat(v, 64))
		return
	}

	rv := reflect.ValueOf(data)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		b.WriteString(formatFloat(rv.Float(), rv.Type().Bits()))
	case reflect.String:
		render(b, rv.String(), nested)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("None")
		} else {
			render(b, rv.Elem().Interface(), nested)
		}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			b.WriteString("[]")
			return
		}
		b.WriteByte('[')
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			render(b, rv.Index(i).Interface(), true)
		}
		b.WriteByte(']')
	case reflect.Map:
		renderMap(b, rv)
	default:
		fmt.Fprint(b, data)
	}
}

func renderMap(b *strings.Builder, rv reflect.Value) {
	type entry struct {
		key   string
		value string
	}

	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		var key, value strings.Builder
		render(&key, iter.Key().Interface(), true)
		render(&value, iter.Value().Interface(), true)
		entries = append(entries, entry{key.String(), value.String()})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return strings.Compare(a.key, b.key)
	})

	b.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.key)
		b.WriteString(": ")
		b.WriteString(e.value)
	}
	b.WriteByte('}')
}

// call runs a String or Error method, falling back to fmt when it panics.
func call(data any, method func() string) (s string) {
	defer func() {
		if recover() != nil {
			s = fmt.Sprint(data)
		}
	}()
	return method()
}

// formatFloat keeps a fraction on integral values (1.0) and switches to
// exponent form below 1e-4 and from 1e16 on.
func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	if abs := math.Abs(f); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, bits)
	}
	s := strconv.FormatFloat(f, 'f', -1, bits)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
