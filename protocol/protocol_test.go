package protocol

import (
	"testing"

	"github.com/davidroman0O/durex/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testID = types.StateID{WorkflowID: "wf", ExecutionID: "ex", ActivityID: "./a.ts", InvocationID: "abc"}

func TestFrameCarriesEveryKind(t *testing.T) {
	messages := []Message{
		Setup{Data: []byte(`{"n":1}`)},
		Signal{Value: SignalTerminate},
		Input{StateID: testID, Data: []byte(`3`)},
		Output{StateID: testID, Data: []byte(`4`)},
		Exception{StateID: testID, Message: "boom", Stack: "at a.ts:1"},
	}

	for _, m := range messages {
		t.Run(string(m.Kind()), func(t *testing.T) {
			data, err := Encode(m)
			require.NoError(t, err)
			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, m, decoded)
		})
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"type":"telemetry"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"type":"output","data":"NA=="}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCorrelated(t *testing.T) {
	id, ok := Correlated(Output{StateID: testID})
	assert.True(t, ok)
	assert.Equal(t, testID, id)

	_, ok = Correlated(Signal{Value: SignalTerminate})
	assert.False(t, ok)
}

func TestRTLCodecPreservesStructs(t *testing.T) {
	type point struct {
		X int64
		Y string
	}
	codec := RTLCodec{}

	data, err := codec.Marshal(&point{X: 7, Y: "seven"})
	require.NoError(t, err)

	var out point
	require.NoError(t, codec.Unmarshal(data, &out))
	assert.Equal(t, point{X: 7, Y: "seven"}, out)
}

func TestCodecByName(t *testing.T) {
	assert.Equal(t, "rtl", CodecByName("rtl").Name())
	assert.Equal(t, "json", CodecByName("").Name())
}
