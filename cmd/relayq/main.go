// Command relayq is the standalone queue CLI: enqueue jobs, inspect
// queues, and run a worker. Applications embedding relayq build their
// own command via cli.NewRootCommand with real handlers; the standalone
// binary ships a single "echo" handler for smoke-testing pipelines.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/relayq/relayq/pkg/cli"
	"github.com/relayq/relayq/pkg/queue"
)

func main() {
	cli.Execute(cli.Options{
		Name:        "relayq",
		Description: "provider-agnostic job queue",
		Handlers: map[string]queue.Handler{
			"echo": func(ctx context.Context, payload []byte, job *queue.ActiveJob) error {
				fmt.Fprintf(os.Stdout, "job %s: %s\n", job.Job.ID, payload)
				return nil
			},
		},
	})
}
