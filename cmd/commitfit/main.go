// Command commitfit fits the customer commitment model to a usage panel and
// inspects stored posterior traces.
//
//	commitfit fit -f usage.csv -o traces --chains 4 --draws 3000
//	commitfit runs -o traces
//	commitfit summary -o traces <run-id>
//	commitfit simulate --customers 500 --periods 24 > synthetic.csv
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
