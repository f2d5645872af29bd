package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	brokerpkg "github.com/drblury/predictflow/internal/runtime/broker"
	configpkg "github.com/drblury/predictflow/internal/runtime/config"
	consumerpkg "github.com/drblury/predictflow/internal/runtime/consumer"
	errspkg "github.com/drblury/predictflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/predictflow/internal/runtime/logging"
	metricspkg "github.com/drblury/predictflow/internal/runtime/metrics"
	scoringpkg "github.com/drblury/predictflow/internal/runtime/scoring"
)

// RequestPrefetch is the number of unacknowledged requests the worker holds.
const RequestPrefetch = 1

// Broker is the broker client as seen by the Service.
type Broker interface {
	consumerpkg.Broker
	DeclareQueue(name string) error
	SetPrefetch(n int) error
	IsConnected() bool
	Close() error
}

var connectBroker = func(ctx context.Context, url string, opts brokerpkg.Options) (Broker, error) {
	return brokerpkg.Connect(ctx, url, opts)
}

var loadModel = func(path string) (scoringpkg.Scorer, error) {
	return scoringpkg.LoadModel(path)
}

var listen = func(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults.
type ServiceDependencies struct {
	// Scorer replaces the model loaded from Config.ScorerModelPath.
	Scorer scoringpkg.Scorer
	// Hooks are merged after the logging and metrics hooks.
	Hooks consumerpkg.JobHooks
	// Middlewares are appended after the default middleware chain.
	Middlewares []message.HandlerMiddleware
	// Registry receives the worker metrics. Defaults to a fresh registry with
	// the Go and process collectors.
	Registry *prometheus.Registry
}

// Service wires the broker connection, the scorer and the consumer loop, and
// serves /metrics and /healthz when metrics are enabled.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	broker   Broker
	worker   *consumerpkg.Worker
	metrics  *metricspkg.WorkerMetrics
	registry *prometheus.Registry

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewService validates conf, loads the scorer, connects to the broker,
// declares the queues and sets the prefetch. Any failure is returned; the
// caller is expected to exit.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if log == nil {
		return nil, errspkg.Config("new service", errspkg.ErrLoggerRequired)
	}
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, err
	}
	log.Info("Creating prediction service", loggingpkg.LogFields{"config": conf.String()})

	scorer := deps.Scorer
	if scorer == nil {
		model, err := loadModel(conf.ScorerModelPath)
		if err != nil {
			return nil, err
		}
		scorer = model
	}
	guard, err := scoringpkg.NewGuard(scorer, conf.ScoreTimeout)
	if err != nil {
		return nil, err
	}

	s := &Service{
		Conf:     conf,
		Logger:   log,
		registry: deps.Registry,
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	b, err := connectBroker(ctx, conf.BrokerURL, brokerpkg.Options{
		PublishTimeout: conf.PublishTimeout,
		ConnectionName: "predict-worker",
		ConsumerTag:    conf.ConsumerTag,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	s.broker = b
	if err := s.setupTopology(); err != nil {
		_ = s.Close()
		return nil, err
	}

	hooks := consumerpkg.LoggingHooks(log)
	if conf.MetricsEnabled {
		s.metrics = metricspkg.NewWorkerMetrics(s.registry)
		if err := s.metrics.Register(); err != nil {
			_ = s.Close()
			return nil, errspkg.Config("register metrics", err)
		}
		hooks = hooks.Merge(consumerpkg.MetricsHooks(s.metrics))
		s.RegisterHTTPHandler(conf.MetricsPort, "/metrics", metricspkg.Handler(s.registry))
		s.RegisterHTTPHandler(conf.MetricsPort, "/healthz", http.HandlerFunc(s.handleHealth))
		s.RegisterHTTPHandler(conf.MetricsPort, "/api/stats", http.HandlerFunc(s.handleGetStats))
	}
	hooks = hooks.Merge(deps.Hooks)

	s.worker, err = consumerpkg.New(b, guard, consumerpkg.Options{
		Queue:       conf.RequestQueue,
		ReplyMode:   conf.ReplyMode,
		ReplyQueue:  conf.ReplyQueue,
		Logger:      log,
		Hooks:       hooks,
		Middlewares: deps.Middlewares,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) setupTopology() error {
	if err := s.broker.DeclareQueue(s.Conf.RequestQueue); err != nil {
		return err
	}
	if s.Conf.ReplyQueue != "" {
		if err := s.broker.DeclareQueue(s.Conf.ReplyQueue); err != nil {
			return err
		}
	}
	return s.broker.SetPrefetch(RequestPrefetch)
}

// Start serves the HTTP endpoints and runs the consumer loop until ctx is
// cancelled or the broker connection is lost. The broker connection is
// closed before Start returns.
func (s *Service) Start(ctx context.Context) error {
	stopHTTP, err := s.startHTTPServers()
	if err != nil {
		_ = s.Close()
		return err
	}
	defer stopHTTP()

	runErr := s.worker.Run(ctx)
	closeErr := s.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// Close releases the broker connection. Safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		if s.broker != nil {
			s.closeErr = s.broker.Close()
		}
	})
	return s.closeErr
}

// Metrics returns the worker metrics, or nil when metrics are disabled.
func (s *Service) Metrics() *metricspkg.WorkerMetrics {
	return s.metrics
}

// Worker returns the consumer loop.
func (s *Service) Worker() *consumerpkg.Worker {
	return s.worker
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.broker == nil || !s.broker.IsConnected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("broker disconnected\n"))
		return
	}
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

// startHTTPServers binds every registered port and serves it in the
// background. The returned func shuts the servers down.
func (s *Service) startHTTPServers() (func(), error) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	var servers []*http.Server
	stop := func() {
		for _, srv := range servers {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := srv.Shutdown(ctx); err != nil {
				s.Logger.Error("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
			cancel()
		}
	}

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		ln, err := listen(addr)
		if err != nil {
			stop()
			return nil, errspkg.Config("listen "+addr, err)
		}
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		servers = append(servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(srv *http.Server, ln net.Listener) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv, ln)
	}
	return stop, nil
}
