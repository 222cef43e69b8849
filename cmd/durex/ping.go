package main

import (
	"context"
	"strconv"
	"time"

	"github.com/davidroman0O/durex"
	"github.com/davidroman0O/durex/future"
	"github.com/davidroman0O/durex/protocol"
	"github.com/davidroman0O/durex/workflow"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"
)

var (
	pingCount   int
	pingTimeout time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure signal, dispatch and reply latency with a pong activity",
	RunE:  runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)

	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 100, "number of pings")
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", time.Second, "timeout of the pong activity")
}

type latency struct {
	Min time.Duration
	Avg time.Duration
	Max time.Duration

	total time.Duration
	n     int
}

func (l *latency) add(d time.Duration) {
	if l.n == 0 || d < l.Min {
		l.Min = d
	}
	if d > l.Max {
		l.Max = d
	}
	l.total += d
	l.n++
	l.Avg = l.total / time.Duration(l.n)
}

type pingSummary struct {
	Pings    int
	Lost     int
	Signal   latency
	Dispatch latency
	Reply    latency
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	registry, err := exampleRegistry(protocol.CodecByName(cfg.Cluster.Codec), 0)
	if err != nil {
		return err
	}
	e, stop, err := startEngine(ctx, registry)
	if err != nil {
		return err
	}
	defer stop()

	wf, err := durex.NewWorkflow[ping, pong](e, "ping", func(ctx context.Context, f *workflow.Factory, p ping) (pong, error) {
		p.Dispatched = time.Now().UnixNano()
		call := workflow.Activity[ping, pong](f, workflow.ActivityOptions[ping]{
			Script:       "pong",
			Timeout:      e.Timeout("pong", pingTimeout),
			InvocationID: func(p ping) string { return strconv.Itoa(p.Seq) },
		})
		out, err := call(ctx, p)
		if err != nil {
			return pong{}, err
		}
		out.Replied = time.Now().UnixNano()
		return out, nil
	})
	if err != nil {
		return err
	}
	defer wf.Close()

	ch := durex.NewChannel[ping, pong](ctx, e)
	defer ch.Close()
	defer ch.Stop()
	wf.Listen(ch, nil)
	ch.Start()

	pending := make([]*future.Future[pong], pingCount)
	for i := range pending {
		pending[i] = ch.PostSignal(ctx, ping{Seq: i, Sent: time.Now().UnixNano()})
	}
	if err := durex.Drain(ctx, ch, 10*time.Millisecond); err != nil {
		return err
	}

	summary := pingSummary{Pings: pingCount}
	for _, f := range pending {
		p, err := f.Get(ctx)
		if err != nil {
			summary.Lost++
			continue
		}
		summary.Signal.add(time.Duration(p.Dispatched - p.Sent))
		summary.Dispatch.add(time.Duration(p.Received - p.Dispatched))
		summary.Reply.add(time.Duration(p.Replied - p.Received))
	}
	pp.Println(summary)
	return nil
}
