// Command frameloop embeds the bridge in a host with its own tick loop.
// All document mutation happens on the main goroutine; RPC handlers are
// drained once per tick via RunPending, so they can touch the document
// without any locking.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"time"

	"pkt.systems/pslog"

	"github.com/mnehpets/hostbridge"
	"github.com/mnehpets/hostbridge/jsonrpc"
)

// document is the host-owned state. No mutex: only the main goroutine
// touches it.
type document struct {
	Lines []string `json:"lines"`
	Ticks int64    `json:"ticks"`
}

func main() {
	logger := pslog.NewStructured(os.Stderr).With("app", "hostbridge-frameloop")

	cfg, err := hostbridge.ConfigFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	svc, err := hostbridge.New(cfg, hostbridge.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}

	doc := &document{}

	svc.RegisterFunc("document.get", func(ctx context.Context, params, id json.RawMessage) (any, error) {
		return doc, nil
	})
	svc.RegisterFunc("document.append", func(ctx context.Context, params, id json.RawMessage) (any, error) {
		var p struct {
			Line string `json:"line"`
		}
		if err := json.Unmarshal(params, &p); err != nil || p.Line == "" {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "expected {\"line\": string}")
		}
		doc.Lines = append(doc.Lines, p.Line)
		return len(doc.Lines), nil
	})
	svc.RegisterFunc("document.clear", func(ctx context.Context, params, id json.RawMessage) (any, error) {
		n := len(doc.Lines)
		doc.Lines = nil
		return n, nil
	})

	if err := svc.Start(); err != nil {
		log.Fatal(err)
	}
	defer svc.Stop()
	log.Println("Listening on", svc.URL())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// The tick loop stands in for a render or simulation loop.
	tick := time.NewTicker(16 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			svc.Bridge().RunPending()
			doc.Ticks++
		}
	}
}
