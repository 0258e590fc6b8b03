package utils

import (
	"encoding/json"

	"github.com/juju/errors"
)

// Serialize encodes a value kept in the state store.
func Serialize(o any) ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, errors.Annotatef(err, "serialize %T", o)
	}
	return b, nil
}

func Unserialize(b []byte, o any) error {
	if len(b) == 0 {
		return errors.NotValidf("unserialize %T from an empty value", o)
	}
	return errors.Annotatef(json.Unmarshal(b, o), "unserialize %T", o)
}
