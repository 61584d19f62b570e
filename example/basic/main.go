package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"

	"pkt.systems/pslog"

	"github.com/mnehpets/hostbridge"
	"github.com/mnehpets/hostbridge/jsonrpc"
)

// EchoParams defines the parameters for the echo command.
type EchoParams struct {
	Message string `json:"message"`
}

func main() {
	logger := pslog.NewStructured(os.Stderr).With("app", "hostbridge-basic")

	cfg, err := hostbridge.ConfigFromEnv()
	if err != nil {
		log.Fatal(err)
	}

	svc, err := hostbridge.New(cfg, hostbridge.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}

	svc.RegisterFunc("ping", func(ctx context.Context, params, id json.RawMessage) (any, error) {
		return "pong", nil
	})
	svc.RegisterFunc("echo", func(ctx context.Context, params, id json.RawMessage) (any, error) {
		var p EchoParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "expected {\"message\": string}")
		}
		return p.Message, nil
	})

	if err := svc.Start(); err != nil {
		log.Fatal(err)
	}
	defer svc.Stop()
	log.Println("Listening on", svc.URL())

	// This process has no work of its own, so the main goroutine is the
	// host context and drains the bridge until interrupted.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	svc.Bridge().Run(ctx)
}
