// Command predict-request sends one batch of tickets to the prediction worker
// and prints the reply.
//
//	predict-request -file batch.json
//	echo '[{"ticketId":1,"queue_length":4,"hour":10,"day_of_week":2}]' | predict-request
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/drblury/predictflow"
	"github.com/drblury/predictflow/client"
	"github.com/drblury/predictflow/internal/runtime/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("predict-request", flag.ContinueOnError)
	fs.SetOutput(stderr)
	url := fs.String("url", os.Getenv(config.EnvBrokerURL), "broker url (defaults to $"+config.EnvBrokerURL+")")
	queue := fs.String("queue", config.DefaultRequestQueue, "request queue")
	file := fs.String("file", "-", "batch file, - for stdin")
	timeout := fs.Duration("timeout", client.DefaultTimeout, "timeout for connecting and waiting for the reply")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	body, err := readBatch(*file, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "predict-request: %v\n", err)
		return 1
	}
	req, err := predictflow.DecodeBatch(body)
	if err != nil {
		fmt.Fprintf(stderr, "predict-request: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c, err := client.Dial(ctx, *url, client.Options{RequestQueue: *queue, Timeout: *timeout})
	if err != nil {
		fmt.Fprintf(stderr, "predict-request: %v\n", err)
		return 1
	}
	defer func() { _ = c.Close() }()

	preds, err := c.Predict(ctx, req.Items)
	if err != nil {
		fmt.Fprintf(stderr, "predict-request: %v\n", err)
		return 1
	}
	if err := predictflow.Encode(stdout, preds); err != nil {
		fmt.Fprintf(stderr, "predict-request: %v\n", err)
		return 1
	}
	return 0
}

func readBatch(file string, stdin io.Reader) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(file)
}
