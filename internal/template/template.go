// Package template renders {{ key.path }} placeholders in prompt messages.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// HasPlaceholders reports whether s contains at least one {{...}} placeholder.
func HasPlaceholders(s string) bool {
	return placeholderPattern.MatchString(s)
}

// Render substitutes every placeholder in tmpl with the matching value from
// vars. Placeholders that cannot be resolved are left exactly as written.
func Render(tmpl string, vars map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := strings.TrimSpace(match[2 : len(match)-2])
		if key == "" {
			return match
		}
		value, ok := lookup(vars, key)
		if !ok {
			return match
		}
		text, ok := stringify(value)
		if !ok {
			return match
		}
		return text
	})
}

func lookup(vars map[string]any, key string) (any, bool) {
	var current any = vars
	for _, segment := range strings.Split(key, ".") {
		next, ok := child(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

func child(parent any, segment string) (any, bool) {
	switch typed := parent.(type) {
	case map[string]any:
		value, ok := typed[segment]
		return value, ok
	case map[string]string:
		value, ok := typed[segment]
		return value, ok
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(parent)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
		return nil, false
	}
	value := rv.MapIndex(reflect.ValueOf(segment).Convert(rv.Type().Key()))
	if !value.IsValid() {
		return nil, false
	}
	return value.Interface(), true
}

func stringify(value any) (string, bool) {
	switch typed := value.(type) {
	case nil:
		return "", false
	case string:
		return typed, true
	case json.Number:
		return typed.String(), true
	case bool:
		return strconv.FormatBool(typed), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), true
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	case json.RawMessage:
		return string(typed), true
	case fmt.Stringer:
		return typed.String(), true
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "", false
		}
		return stringify(rv.Elem().Interface())
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if (rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice) && rv.IsNil() {
			return "null", true
		}
		return encodeJSON(value), true
	default:
		return fmt.Sprint(value), true
	}
}

// encodeJSON matches JSON.stringify output: compact and without HTML escaping.
func encodeJSON(value any) string {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return fmt.Sprint(value)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
