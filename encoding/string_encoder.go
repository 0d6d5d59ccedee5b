package encoding

import (
	"reflect"
	"unicode/utf8"

	"github.com/tryfix/errors"
)

// StringEncoder frames strings as their raw utf8 bytes; the receive
// path rejects payloads that are not valid utf8 rather than smuggling
// arbitrary bytes into a string value.
type StringEncoder struct{}

func (s StringEncoder) Encode(v interface{}) ([]byte, error) {
	str, ok := v.(string)
	if !ok {
		return nil, errors.Errorf(`invalid type [%+v] expected string`, reflect.TypeOf(v))
	}

	return []byte(str), nil
}

func (s StringEncoder) Decode(data []byte) (interface{}, error) {
	if !utf8.Valid(data) {
		return nil, errors.New(`payload is not valid utf8`)
	}

	return string(data), nil
}
