package protocol

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/stephenfire/go-rtl"
)

// Codec serializes activity inputs and outputs into message payloads.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() string
}

type JSONCodec struct{}

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string { return "json" }

// RTLCodec uses go-rtl binary encoding. It requires concrete types on both sides.
type RTLCodec struct{}

func (RTLCodec) Marshal(v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)

	// just get the real one
	if v != nil && reflect.TypeOf(v).Kind() == reflect.Ptr {
		v = reflect.ValueOf(v).Elem().Interface()
	}

	if err := rtl.Encode(v, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (RTLCodec) Unmarshal(data []byte, v interface{}) error {
	return rtl.Decode(bytes.NewBuffer(data), v)
}

func (RTLCodec) Name() string { return "rtl" }

// CodecByName returns the codec configured by name, defaulting to JSON.
func CodecByName(name string) Codec {
	switch name {
	case "rtl":
		return RTLCodec{}
	default:
		return JSONCodec{}
	}
}
