// Package hostbridge embeds a JSON-RPC 2.0 command endpoint into a host
// application whose state must only be touched from a single execution
// context (a GUI main loop, a simulation tick, an embedded interpreter).
//
// HTTP requests arrive on ordinary server goroutines; registered command
// handlers execute on the host's context via the bridge package, in
// strict submission order. The host drains the bridge from its own loop:
//
//	svc, err := hostbridge.New(hostbridge.Config{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	svc.RegisterFunc("ping", func(ctx context.Context, params, id json.RawMessage) (any, error) {
//		return "pong", nil
//	})
//	if err := svc.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer svc.Stop()
//
//	for hostIsRunning() {
//		svc.Bridge().RunPending()
//		hostTick()
//	}
//
// The endpoint listens on http://localhost:8000/mcp/ by default and is
// not reachable from other machines unless the embedder binds a wider
// address, in which case the auth package and Config.AuthToken provide
// request authentication.
package hostbridge
