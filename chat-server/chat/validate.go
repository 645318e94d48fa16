package chat

import (
	"encoding/json"

	"github.com/clipperhouse/uax29/v2/graphemes"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// a reaction is one user-perceived character, e.g. "👍" or "👨‍👩‍👧"
	_ = v.RegisterValidation("grapheme", func(fl validator.FieldLevel) bool {
		return graphemeCount(fl.Field().String()) == 1
	})
	return v
}

func graphemeCount(s string) int {
	n := 0
	it := graphemes.FromString(s)
	for it.Next() {
		n++
	}
	return n
}

// decodeValue decodes a scalar payload such as a string or a bool.
func decodeValue[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errors.Mark(errors.Wrap(err, "decode payload"), ErrInvalidPayload)
	}
	return v, nil
}

// decodeStruct decodes an object payload and runs its validate tags.
func decodeStruct[T any](raw json.RawMessage) (T, error) {
	v, err := decodeValue[T](raw)
	if err != nil {
		return v, err
	}
	if err := validate.Struct(v); err != nil {
		return v, errors.Mark(errors.Wrap(err, "validate payload"), ErrInvalidPayload)
	}
	return v, nil
}
