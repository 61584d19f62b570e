// Command secured exposes the bridge beyond localhost: bearer-token
// authentication, CORS for a browser frontend, and Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"pkt.systems/pslog"

	"github.com/mnehpets/hostbridge"
)

func main() {
	logger := pslog.NewStructured(os.Stderr).With("app", "hostbridge-secured")

	cfg, err := hostbridge.ConfigFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.AuthToken == "" {
		log.Fatal("HOSTBRIDGE_AUTH_TOKEN is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "0.0.0.0:8000"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:5173"}
	}

	reg := prometheus.NewRegistry()
	svc, err := hostbridge.New(cfg,
		hostbridge.WithLogger(logger),
		hostbridge.WithPrometheusRegisterer(reg),
	)
	if err != nil {
		log.Fatal(err)
	}

	svc.RegisterFunc("ping", func(ctx context.Context, params, id json.RawMessage) (any, error) {
		return "pong", nil
	})

	// Metrics stay on a separate loopback-only listener.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		log.Fatal(http.ListenAndServe("localhost:9090", mux))
	}()

	if err := svc.Start(); err != nil {
		log.Fatal(err)
	}
	defer svc.Stop()
	log.Println("Listening on", svc.URL())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	svc.Bridge().Run(ctx)
}
