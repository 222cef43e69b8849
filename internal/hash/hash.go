package hash

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
)

// Canonical returns the sorted-key JSON form of v. A nil v encodes as null.
func Canonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	// Decoding into interface{} gives maps, which json.Marshal writes with sorted keys.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// Value is the hex sha1 of the canonical form of v.
func Value(v interface{}) (string, error) {
	canonical, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(canonical)
	return hex.EncodeToString(sum[:]), nil
}
