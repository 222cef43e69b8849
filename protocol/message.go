package protocol

import (
	"github.com/davidroman0O/durex/types"
)

type Kind string

const (
	KindSetup     Kind = "setup"
	KindSignal    Kind = "signal"
	KindInput     Kind = "input"
	KindOutput    Kind = "output"
	KindException Kind = "exception"
)

// SignalTerminate asks a worker to shut down.
const SignalTerminate = "SIGINT"

// Message is any frame exchanged between a cluster and one of its workers.
type Message interface {
	Kind() Kind
}

// Setup carries the cluster's setup payload to a freshly created worker.
type Setup struct {
	Data []byte
}

// Signal carries an OS-style signal name such as SIGINT.
type Signal struct {
	Value string
}

// Input asks the worker to run its handler for one invocation.
type Input struct {
	StateID types.StateID
	Data    []byte
}

// Output is the successful reply to an Input with the same StateID.
type Output struct {
	StateID types.StateID
	Data    []byte
}

// Exception is the failed reply to an Input with the same StateID.
type Exception struct {
	StateID types.StateID
	Message string
	Stack   string
}

func (Setup) Kind() Kind     { return KindSetup }
func (Signal) Kind() Kind    { return KindSignal }
func (Input) Kind() Kind     { return KindInput }
func (Output) Kind() Kind    { return KindOutput }
func (Exception) Kind() Kind { return KindException }

// Correlated returns the StateID of messages that belong to an invocation.
func Correlated(m Message) (types.StateID, bool) {
	switch msg := m.(type) {
	case Input:
		return msg.StateID, true
	case Output:
		return msg.StateID, true
	case Exception:
		return msg.StateID, true
	default:
		return types.StateID{}, false
	}
}
