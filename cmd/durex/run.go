package main

import (
	"context"
	"strconv"
	"time"

	"github.com/davidroman0O/durex"
	"github.com/davidroman0O/durex/future"
	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/davidroman0O/durex/protocol"
	"github.com/davidroman0O/durex/workflow"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"
)

var (
	runCount    int
	runX        int
	runN        int
	runInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the a -> b -> c example workflow through a signal channel",
	Example: `  durex run --count 10
  durex run --config durex.yaml --x 3 --n 1`,
	RunE: runLinear,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVarP(&runCount, "count", "c", 1, "number of executions to post")
	runCmd.Flags().IntVar(&runX, "x", 3, "input of the first execution, later ones add their index")
	runCmd.Flags().IntVar(&runN, "n", 1, "increment applied by activity a")
	runCmd.Flags().DurationVar(&runInterval, "drain-interval", 100*time.Millisecond, "how often to check for pending executions")
}

type runSummary struct {
	Posted    int
	Succeeded int
	Failed    int
	Elapsed   string
	Results   map[string]string
}

func runLinear(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	summary, err := linearSummary(ctx, runCount, runX, runN)
	if err != nil {
		return err
	}
	pp.Println(summary)
	return nil
}

// linearSummary posts count executions of the a -> b -> c workflow and waits for all of them.
func linearSummary(ctx context.Context, count, x, n int) (runSummary, error) {
	registry, err := exampleRegistry(protocol.CodecByName(cfg.Cluster.Codec), n)
	if err != nil {
		return runSummary{}, err
	}
	e, stop, err := startEngine(ctx, registry)
	if err != nil {
		return runSummary{}, err
	}
	defer stop()

	wf, err := durex.NewWorkflow[int, string](e, "linear", func(ctx context.Context, f *workflow.Factory, in int) (string, error) {
		a := workflow.Entry[int, int](f, "a", e.Timeout("a", time.Second))
		b := workflow.FollowedBy[int](f, a, "b", e.Timeout("b", time.Second))
		c := workflow.FollowedBy[string](f, b, "c", e.Timeout("c", time.Second))
		return c(ctx, in)
	})
	if err != nil {
		return runSummary{}, err
	}
	defer wf.Close()

	ch := durex.NewChannel[int, string](ctx, e)
	defer ch.Close()
	defer ch.Stop()
	wf.Listen(ch, func(executionID string, x int, err error, result string) {
		if err != nil {
			logs.Warn(ctx, "execution failed", "execution_id", executionID, "x", x, "error", err)
			return
		}
		logs.Debug(ctx, "execution done", "execution_id", executionID, "x", x, "result", result)
	})

	start := time.Now()
	posted := make([]*future.Future[string], count)
	for i := range posted {
		posted[i] = ch.PostSignal(ctx, x+i)
	}
	ch.Start()

	if err := durex.Drain(ctx, ch, runInterval); err != nil {
		return runSummary{}, err
	}

	summary := runSummary{Posted: count, Results: map[string]string{}}
	for i, f := range posted {
		out, err := f.Get(ctx)
		if err != nil {
			summary.Failed++
			summary.Results[strconv.Itoa(x+i)] = err.Error()
			continue
		}
		summary.Succeeded++
		summary.Results[strconv.Itoa(x+i)] = out
	}
	summary.Elapsed = time.Since(start).String()
	return summary, nil
}
