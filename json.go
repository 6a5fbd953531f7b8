package loom

import (
	"encoding/json"
	"reflect"
	"strconv"
)

// jsonMarshal special-cases primitive values to skip the reflection-heavy
// path encoding/json otherwise always takes, falling back to json.Marshal
// for anything structured.
func jsonMarshal(v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return []byte(`"` + v.(string) + `"`), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return []byte(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return []byte(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return []byte(strconv.FormatFloat(rv.Float(), 'f', -1, 64)), nil
	case reflect.Bool:
		if rv.Bool() {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return []byte("null"), nil
		}
		return jsonMarshal(rv.Elem().Interface())
	}
	return json.Marshal(v)
}

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// JSON marshals v and writes it as the response body with a JSON content
// type. If marshaling fails it sets status 500 and appends a short error
// message to the body instead.
func (w *ResponseWriter) JSON(v any) {
	b, err := jsonMarshal(v)
	if err != nil {
		w.Status(500)
		w.WriteString("failed to encode response body")
		return
	}
	w.ContentType("application/json")
	_, _ = w.Write(b)
}

// BindJSON decodes body into v. It wraps jsonUnmarshal for symmetry with
// JSON above.
func BindJSON(body []byte, v any) error {
	return jsonUnmarshal(body, v)
}
