package hostbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"pkt.systems/pslog"

	"github.com/mnehpets/hostbridge/auth"
	"github.com/mnehpets/hostbridge/bridge"
	"github.com/mnehpets/hostbridge/endpoint"
	"github.com/mnehpets/hostbridge/jsonrpc"
	"github.com/mnehpets/hostbridge/middleware"
)

// Service is the embeddable JSON-RPC endpoint. It owns the HTTP listener
// lifecycle and the wiring between the codec, the command registry, and
// the execution bridge. Construct it with New and inject it where the
// embedding application needs it; there is no package-level instance.
type Service struct {
	cfg        Config
	logger     pslog.Logger
	registry   *jsonrpc.Registry
	bridge     *bridge.Bridge
	verifier   auth.Verifier
	bearer     *middleware.BearerAuth
	extraProcs []endpoint.Processor
	metrics    *metrics

	mu        sync.Mutex
	listener  net.Listener
	running   bool
	httpSrv   *http.Server
	boundAddr string
	startedAt time.Time
}

// Option configures a Service.
type Option func(*options)

type options struct {
	logger     pslog.Logger
	registry   *jsonrpc.Registry
	bridge     *bridge.Bridge
	verifier   auth.Verifier
	processors []endpoint.Processor
	registerer prometheus.Registerer
	listener   net.Listener
}

// WithLogger supplies a structured logger. Defaults to a no-op logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry injects a pre-populated command registry.
func WithRegistry(r *jsonrpc.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithBridge injects a pre-built execution bridge. When set,
// Config.SubmitTimeout and Config.QueueSize are ignored.
func WithBridge(b *bridge.Bridge) Option {
	return func(o *options) { o.bridge = b }
}

// WithVerifier requires every RPC call to carry a bearer token accepted
// by v. Combinable with Config.AuthToken (both are then enforced).
func WithVerifier(v auth.Verifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithProcessors appends additional processors to the RPC pipeline,
// after the built-in ones.
func WithProcessors(p ...endpoint.Processor) Option {
	return func(o *options) { o.processors = append(o.processors, p...) }
}

// WithPrometheusRegisterer enables metrics registration against reg.
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithListener serves on ln instead of binding Config.Addr. Mostly for
// tests. The listener is consumed by the first Start and closed by Stop;
// a subsequent Start binds Config.Addr again.
func WithListener(ln net.Listener) Option {
	return func(o *options) { o.listener = ln }
}

// New constructs a Service from cfg.
//
// The host application drains the returned service's Bridge from its own
// serialized execution context, e.g.:
//
//	svc, err := hostbridge.New(cfg)
//	...
//	svc.Start()
//	for hostIsRunning {
//	    svc.Bridge().RunPending()
//	    hostTick()
//	}
//	svc.Stop()
func New(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}

	s := &Service{
		cfg:        cfg,
		logger:     logger,
		registry:   o.registry,
		bridge:     o.bridge,
		verifier:   o.verifier,
		extraProcs: o.processors,
		listener:   o.listener,
	}
	if s.registry == nil {
		s.registry = jsonrpc.NewRegistry()
	}
	if s.bridge == nil {
		s.bridge = bridge.New(
			bridge.WithLogger(logger),
			bridge.WithSubmitTimeout(cfg.SubmitTimeout),
			bridge.WithQueueSize(cfg.QueueSize),
		)
	}
	if cfg.AuthToken != "" {
		b, err := middleware.NewBearerAuth(cfg.AuthToken)
		if err != nil {
			return nil, err
		}
		s.bearer = b
	}
	if o.registerer != nil {
		m, err := newMetrics(o.registerer, s.bridge)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}
	return s, nil
}

// Register binds a command name to a handler. Registration fails after
// the service has started serving (the registry freezes on Start).
func (s *Service) Register(name string, h jsonrpc.Handler) error {
	return s.registry.Register(name, h)
}

// RegisterFunc binds a command name to a handler function.
func (s *Service) RegisterFunc(name string, fn jsonrpc.HandlerFunc) error {
	return s.registry.Register(name, fn)
}

// Bridge returns the execution bridge the host must drain.
func (s *Service) Bridge() *bridge.Bridge {
	return s.bridge
}

// Registry returns the command registry.
func (s *Service) Registry() *jsonrpc.Registry {
	return s.registry
}

// Start binds the listener and begins serving. Calling Start on a
// running service is a no-op. On bind failure the error is logged and
// returned, and the service remains stopped; there is no automatic
// retry.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Debug("hostbridge: already listening", "url", s.urlLocked())
		return nil
	}

	ln := s.listener
	s.listener = nil
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			s.logger.Error("hostbridge: bind failed", "addr", s.cfg.Addr, "error", err.Error())
			return fmt.Errorf("hostbridge: bind %s: %w", s.cfg.Addr, err)
		}
	}

	s.registry.Freeze()
	srv := &http.Server{
		Handler:           s.buildHandler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	go func() {
		// Serve returns ErrServerClosed on a clean Stop; anything else
		// is a listener fault worth surfacing in the log.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("hostbridge: serve failed", "error", err.Error())
		}
	}()

	s.httpSrv = srv
	s.boundAddr = ln.Addr().String()
	s.running = true
	s.startedAt = time.Now()
	s.logger.Info("hostbridge: listening", "url", s.urlLocked(), "methods", len(s.registry.Names()))
	return nil
}

// Stop releases the listener and waits up to Config.ShutdownTimeout for
// in-flight requests to drain before force-closing. Commands already
// queued to the host context are not aborted. Stop is idempotent and
// safe to call from any goroutine.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpSrv
	s.httpSrv = nil
	s.running = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn("hostbridge: drain incomplete, closing", "error", err.Error())
		srv.Close()
	}
	s.logger.Info("hostbridge: stopped")
	return nil
}

// IsRunning reports whether the listener is bound and serving.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// URL returns the base URL of the RPC endpoint, always ending with "/".
// While running it reflects the actually bound address (relevant with
// port 0).
func (s *Service) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urlLocked()
}

func (s *Service) urlLocked() string {
	addr := s.cfg.Addr
	if s.boundAddr != "" {
		addr = s.boundAddr
	}
	return urlFor(addr, s.cfg.Path)
}

// SetPath changes the RPC endpoint path. The value is normalized to
// start and end with "/". The service must be stopped.
func (s *Service) SetPath(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("hostbridge: cannot change path while running")
	}
	s.cfg.Path = normalizePath(p)
	if s.cfg.HealthPath == s.cfg.Path {
		return errors.New("hostbridge: path collides with health path")
	}
	return nil
}

// buildHandler assembles the request pipeline. Called under s.mu.
func (s *Service) buildHandler() http.Handler {
	procs := []endpoint.Processor{middleware.NewRequestLog(s.logger)}

	headers := middleware.NewSecurityHeaders()
	if len(s.cfg.AllowedOrigins) > 0 {
		headers.Origins = s.cfg.AllowedOrigins
		headers.MaxAge = 600
	}
	procs = append(procs, headers)

	// CORS preflights are answered above; everything below requires
	// credentials when configured.
	if s.bearer != nil {
		procs = append(procs, s.bearer)
	}
	if s.verifier != nil {
		procs = append(procs, auth.Processor(s.verifier))
	}
	procs = append(procs, s.extraProcs...)

	rpc := jsonrpc.NewEndpoint(s.registry, s.bridge,
		jsonrpc.WithLogger(s.logger),
		jsonrpc.WithObserver(s.observe))

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, endpoint.Handler(rpc.Endpoint, procs...))
	if s.cfg.HealthPath != "" {
		mux.Handle(s.cfg.HealthPath, endpoint.Handler(s.health, middleware.NewRequestLog(s.logger)))
	}
	return mux
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.requests.WithLabelValues(outcome).Inc()
	}
}

type healthParams struct {
	Verbose bool `query:"verbose"`
}

type healthStatus struct {
	Status        string   `json:"status"`
	Running       bool     `json:"running"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	QueueDepth    int      `json:"queue_depth"`
	Methods       []string `json:"methods,omitempty"`
}

func (s *Service) health(w http.ResponseWriter, r *http.Request, params healthParams) (endpoint.Renderer, error) {
	s.mu.Lock()
	startedAt := s.startedAt
	running := s.running
	s.mu.Unlock()

	st := healthStatus{
		Status:     "ok",
		Running:    running,
		QueueDepth: s.bridge.Depth(),
	}
	if running {
		st.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	if params.Verbose {
		st.Methods = s.registry.Names()
	}
	return &endpoint.JSONRenderer{Value: st}, nil
}
