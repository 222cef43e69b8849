package main

import (
	"context"
	"fmt"
	"time"

	"github.com/davidroman0O/durex/cluster"
	"github.com/davidroman0O/durex/protocol"
)

// exampleRegistry holds the activities of the bundled workflows, encoded with codec.
func exampleRegistry(codec protocol.Codec, n int) (*cluster.Registry, error) {
	return cluster.NewBuilder().
		Activity("a", cluster.Typed(codec, func(ctx context.Context, x int) (int, error) {
			return x + n, nil
		})).
		Activity("b", cluster.Typed(codec, func(ctx context.Context, y int) (int, error) {
			return y * 2, nil
		})).
		Activity("c", cluster.Typed(codec, func(ctx context.Context, z int) (string, error) {
			return fmt.Sprintf("x = %d", z), nil
		})).
		Activity("pong", cluster.Typed(codec, func(ctx context.Context, p ping) (pong, error) {
			return pong{Sent: p.Sent, Dispatched: p.Dispatched, Received: time.Now().UnixNano()}, nil
		})).
		Build()
}

type ping struct {
	Seq        int   `json:"seq"`
	Sent       int64 `json:"sent"`
	Dispatched int64 `json:"dispatched"`
}

type pong struct {
	Sent       int64 `json:"sent"`
	Dispatched int64 `json:"dispatched"`
	Received   int64 `json:"received"`
	Replied    int64 `json:"replied"`
}
