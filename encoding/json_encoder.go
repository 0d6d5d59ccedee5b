package encoding

import (
	"encoding/json"

	"github.com/tryfix/errors"
)

// JsonEncoder encodes values through encoding/json. Decoded values come
// back as the generic json types (map[string]interface{}, float64, ...).
type JsonEncoder struct{}

func NewJsonEncoder() *JsonEncoder {
	return &JsonEncoder{}
}

func (*JsonEncoder) Encode(v interface{}) ([]byte, error) {
	byt, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot encode data`)
	}

	return byt, nil
}

func (*JsonEncoder) Decode(data []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.WithPrevious(err, `cannot decode data`)
	}

	return v, nil
}
