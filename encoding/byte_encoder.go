package encoding

import (
	"reflect"

	"github.com/tryfix/errors"
)

// ByteArrayEncoder passes raw payloads through untouched.
type ByteArrayEncoder struct{}

func (ByteArrayEncoder) Encode(v interface{}) ([]byte, error) {
	byt, ok := v.([]byte)
	if !ok {
		return nil, errors.Errorf(`invalid type [%v] expected []byte`, reflect.TypeOf(v))
	}

	return byt, nil
}

func (ByteArrayEncoder) Decode(data []byte) (interface{}, error) {
	return data, nil
}
