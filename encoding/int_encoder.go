package encoding

import (
	"encoding/binary"
	"reflect"

	"github.com/tryfix/errors"
)

// IntEncoder frames ints as fixed-width 8 byte big endian words, so a
// payload's validity is checkable by length alone on the receive path.
type IntEncoder struct{}

func (IntEncoder) Encode(v interface{}) ([]byte, error) {

	i, ok := v.(int)
	if !ok {
		return nil, errors.Errorf(`invalid type [%v] expected int`, reflect.TypeOf(v))
	}

	byt := make([]byte, 8)
	binary.BigEndian.PutUint64(byt, uint64(int64(i)))

	return byt, nil
}

func (IntEncoder) Decode(data []byte) (interface{}, error) {
	if len(data) != 8 {
		return nil, errors.Errorf(`invalid payload length [%d] expected 8`, len(data))
	}

	return int(int64(binary.BigEndian.Uint64(data))), nil
}
