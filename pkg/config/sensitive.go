package config

import (
	"reflect"
	"strings"
)

// sensitiveKeyMarkers are substrings of a config field's tag name that mark
// its value as a secret: anything matching is masked out of log output.
var sensitiveKeyMarkers = []string{"token", "secret", "password", "webhook_url"}

// ExtractSensitiveValues walks cfg recursively (structs, maps, slices,
// pointers) and collects every string value reached through a field whose
// json tag name contains one of sensitiveKeyMarkers. Values are deduplicated
// and empty strings are dropped; logger.RegisterSensitive further filters
// anything shorter than 8 bytes.
func ExtractSensitiveValues(cfg *AppConfig) []string {
	seen := map[string]bool{}
	var out []string
	walk(reflect.ValueOf(cfg), false, &seen, &out)
	return out
}

func walk(v reflect.Value, parentIsSensitiveField bool, seen *map[string]bool, out *[]string) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return
		}
		walk(v.Elem(), parentIsSensitiveField, seen, out)
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := jsonFieldName(field)
			walk(v.Field(i), isSensitiveName(name), seen, out)
		}
	case reflect.Map:
		for _, k := range v.MapKeys() {
			sensitive := parentIsSensitiveField || isSensitiveName(toString(k))
			walk(v.MapIndex(k), sensitive, seen, out)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			walk(v.Index(i), parentIsSensitiveField, seen, out)
		}
	case reflect.String:
		if parentIsSensitiveField {
			s := v.String()
			if s != "" && !(*seen)[s] {
				(*seen)[s] = true
				*out = append(*out, s)
			}
		}
	}
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	return strings.SplitN(tag, ",", 2)[0]
}

func isSensitiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range sensitiveKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func toString(v reflect.Value) string {
	if v.Kind() == reflect.String {
		return v.String()
	}
	return ""
}
