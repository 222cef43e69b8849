package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/davidroman0O/durex/types"
)

var (
	ErrUnknownKind = errors.New("durex: unknown message kind")
	ErrMalformed   = errors.New("durex: malformed message")
)

// frame is the wire shape of every message. Only the fields of its kind are set.
type frame struct {
	Type    Kind           `json:"type"`
	ID      *types.StateID `json:"id,omitempty"`
	Data    []byte         `json:"data,omitempty"`
	Value   string         `json:"value,omitempty"`
	Message string         `json:"message,omitempty"`
	Stack   string         `json:"stack,omitempty"`
}

// Encode turns a message into a self-describing frame.
func Encode(m Message) ([]byte, error) {
	var f frame
	switch msg := m.(type) {
	case Setup:
		f = frame{Type: KindSetup, Data: msg.Data}
	case Signal:
		f = frame{Type: KindSignal, Value: msg.Value}
	case Input:
		id := msg.StateID
		f = frame{Type: KindInput, ID: &id, Data: msg.Data}
	case Output:
		id := msg.StateID
		f = frame{Type: KindOutput, ID: &id, Data: msg.Data}
	case Exception:
		id := msg.StateID
		f = frame{Type: KindException, ID: &id, Message: msg.Message, Stack: msg.Stack}
	case nil:
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}
	return json.Marshal(f)
}

// Decode parses a frame produced by Encode.
func Decode(data []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}

	needID := func() (types.StateID, error) {
		if f.ID == nil {
			return types.StateID{}, fmt.Errorf("%w: %s frame without id", ErrMalformed, f.Type)
		}
		return *f.ID, nil
	}

	switch f.Type {
	case KindSetup:
		return Setup{Data: f.Data}, nil
	case KindSignal:
		return Signal{Value: f.Value}, nil
	case KindInput:
		id, err := needID()
		if err != nil {
			return nil, err
		}
		return Input{StateID: id, Data: f.Data}, nil
	case KindOutput:
		id, err := needID()
		if err != nil {
			return nil, err
		}
		return Output{StateID: id, Data: f.Data}, nil
	case KindException:
		id, err := needID()
		if err != nil {
			return nil, err
		}
		return Exception{StateID: id, Message: f.Message, Stack: f.Stack}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, f.Type)
	}
}
