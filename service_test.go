package hostbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mnehpets/hostbridge/jsonrpc"
)

// newTestService starts a service on an ephemeral port with a drain
// goroutine standing in for the host context.
func newTestService(t *testing.T, cfg Config, opts ...Option) *Service {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	svc, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.RegisterFunc("ping", func(ctx context.Context, params, id json.RawMessage) (any, error) {
		return "pong", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Bridge().Run(ctx)
	t.Cleanup(func() {
		svc.Stop()
		cancel()
	})

	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return svc
}

func call(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, strings.TrimSpace(string(b))
}

func TestServicePing(t *testing.T) {
	svc := newTestService(t, Config{})

	status, body := call(t, svc.URL(), `{"method": "ping", "id": "1"}`)
	if status != http.StatusOK {
		t.Errorf("got status %d, want 200", status)
	}
	if body != `{"id":"1","result":"pong"}` {
		t.Errorf("got body %q", body)
	}
}

func TestServiceParseError(t *testing.T) {
	svc := newTestService(t, Config{})

	status, body := call(t, svc.URL(), `not json`)
	if status != http.StatusOK {
		t.Errorf("got status %d, want 200", status)
	}
	if body != `{"id":null,"error":{"code":-32700,"message":"Invalid JSON"}}` {
		t.Errorf("got body %q", body)
	}
}

func TestServiceMethodNotFound(t *testing.T) {
	svc := newTestService(t, Config{})

	_, body := call(t, svc.URL(), `{"method": "nope", "id": 7}`)
	var resp struct {
		ID    int `json:"id"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", body, err)
	}
	if resp.ID != 7 || resp.Error == nil || resp.Error.Code != jsonrpc.CodeMethodNotFound {
		t.Errorf("got response %q", body)
	}
}

func TestServiceNonPOST(t *testing.T) {
	svc := newTestService(t, Config{})

	resp, err := http.Get(svc.URL())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("got status %d, want 405", resp.StatusCode)
	}
	if len(b) != 0 {
		t.Errorf("got body %q, want empty", b)
	}
}

func TestServiceLifecycleIdempotent(t *testing.T) {
	svc := newTestService(t, Config{})
	if !svc.IsRunning() {
		t.Fatal("not running after Start")
	}
	url := svc.URL()

	// Second Start is a no-op and keeps the same listener.
	if err := svc.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if svc.URL() != url {
		t.Errorf("URL changed on redundant Start: %q -> %q", url, svc.URL())
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if svc.IsRunning() {
		t.Error("running after Stop")
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	if _, err := http.Post(url, "application/json", strings.NewReader(`{"method":"ping","id":1}`)); err == nil {
		t.Error("listener still accepting after Stop")
	}
}

func TestServiceBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	svc, err := New(Config{Addr: ln.Addr().String()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.Start(); err == nil {
		t.Fatal("Start succeeded on an occupied port")
	}
	if svc.IsRunning() {
		t.Error("running after failed Start")
	}
}

func TestServiceRegisterAfterStart(t *testing.T) {
	svc := newTestService(t, Config{})
	err := svc.RegisterFunc("late", func(ctx context.Context, params, id json.RawMessage) (any, error) {
		return nil, nil
	})
	if err == nil {
		t.Error("registration accepted after Start")
	}
}

func TestServiceSequentialExecution(t *testing.T) {
	var calls []int
	svc, err := New(Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}
	svc.RegisterFunc("record", func(ctx context.Context, params, id json.RawMessage) (any, error) {
		var n int
		if err := json.Unmarshal(params, &n); err != nil {
			return nil, err
		}
		calls = append(calls, n)
		return n, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Bridge().Run(ctx)
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	// The handler appends without a mutex; sequential submission means
	// the slice never races even though each request is a new goroutine
	// server-side.
	for i := 0; i < 10; i++ {
		status, _ := call(t, svc.URL(), fmt.Sprintf(`{"method":"record","id":%d,"params":%d}`, i, i))
		if status != http.StatusOK {
			t.Fatalf("call %d: status %d", i, status)
		}
	}
	if len(calls) != 10 {
		t.Fatalf("got %d calls, want 10", len(calls))
	}
	for i, n := range calls {
		if n != i {
			t.Errorf("call %d recorded %d", i, n)
		}
	}
}

func TestServiceBearerAuth(t *testing.T) {
	svc := newTestService(t, Config{AuthToken: "s3cret"})

	// No credentials.
	status, _ := call(t, svc.URL(), `{"method":"ping","id":1}`)
	if status != http.StatusUnauthorized {
		t.Errorf("unauthenticated: got status %d, want 401", status)
	}

	req, err := http.NewRequest(http.MethodPost, svc.URL(), strings.NewReader(`{"method":"ping","id":1}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated: got status %d, want 200", resp.StatusCode)
	}
}

func TestServiceHostTimeout(t *testing.T) {
	// No drain goroutine: the host never runs, so the submit timeout
	// fires and maps to the server-defined timeout code.
	svc, err := New(Config{Addr: "127.0.0.1:0", SubmitTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	svc.RegisterFunc("ping", func(ctx context.Context, params, id json.RawMessage) (any, error) {
		return "pong", nil
	})
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	status, body := call(t, svc.URL(), `{"method":"ping","id":1}`)
	if status != http.StatusOK {
		t.Errorf("got status %d, want 200", status)
	}
	if !strings.Contains(body, fmt.Sprintf(`"code":%d`, jsonrpc.CodeHostTimeout)) {
		t.Errorf("got body %q, want host timeout error", body)
	}
}

func TestServiceHealth(t *testing.T) {
	svc := newTestService(t, Config{})

	base := strings.TrimSuffix(svc.URL(), "/mcp/")
	resp, err := http.Get(base + "/healthz/?verbose=true")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	var st struct {
		Status     string   `json:"status"`
		Running    bool     `json:"running"`
		QueueDepth int      `json:"queue_depth"`
		Methods    []string `json:"methods"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Status != "ok" || !st.Running {
		t.Errorf("got health %+v", st)
	}
	if len(st.Methods) != 1 || st.Methods[0] != "ping" {
		t.Errorf("got methods %v", st.Methods)
	}
}

func TestServiceMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := newTestService(t, Config{}, WithPrometheusRegisterer(reg))

	call(t, svc.URL(), `{"method":"ping","id":1}`)
	call(t, svc.URL(), `not json`)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "hostbridge_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" {
					counts[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	if counts["success"] != 1 || counts["parse_error"] != 1 {
		t.Errorf("got outcome counts %v", counts)
	}
}

func TestServiceSetPath(t *testing.T) {
	svc, err := New(Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SetPath("rpc"); err != nil {
		t.Fatalf("SetPath: %v", err)
	}
	if !strings.HasSuffix(svc.URL(), "/rpc/") {
		t.Errorf("got URL %q", svc.URL())
	}

	svc.RegisterFunc("ping", func(ctx context.Context, params, id json.RawMessage) (any, error) {
		return "pong", nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Bridge().Run(ctx)
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	if err := svc.SetPath("/other/"); err == nil {
		t.Error("SetPath accepted while running")
	}
	status, body := call(t, svc.URL(), `{"method":"ping","id":"1"}`)
	if status != http.StatusOK || body != `{"id":"1","result":"pong"}` {
		t.Errorf("got status %d body %q", status, body)
	}
}
