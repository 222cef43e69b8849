package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/automaxprocs/maxprocs"
)

func init() {
	maxprocs.Set()

	deadlock.Opts.DeadlockTimeout = 30 * time.Second
	deadlock.Opts.OnPotentialDeadlock = func() {
		buf := make([]byte, 1<<16)
		n := runtime.Stack(buf, true)
		logs.Default().Error(context.Background(), "potential deadlock detected", "stack", string(buf[:n]))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
