// Package monitor wires the pipeline together and owns process
// lifecycle: transports in, pipeline in the middle, fan-out sinks
// out, with graceful shutdown across all of them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"iotmon/internal/alerts"
	"iotmon/internal/config"
	"iotmon/internal/handlers"
	"iotmon/internal/logger"
	"iotmon/internal/middleware"
	"iotmon/internal/mqttlistener"
	"iotmon/internal/notify"
	"iotmon/internal/pipeline"
	"iotmon/internal/rules"
	"iotmon/internal/store"
	"iotmon/internal/ws"
)

// Monitor is the high-level coordinator for ingestion, rule
// evaluation and fan-out.
type Monitor struct {
	cfg        *config.Config
	store      store.Store
	hub        *ws.Hub
	dispatcher *notify.Dispatcher
	kafka      *notify.KafkaPublisher
	pipe       *pipeline.Service
	listener   *mqttlistener.Listener
	watchdog   *Watchdog
	httpServer *http.Server
	wg         sync.WaitGroup
}

// New builds the full object graph from config.
func New(cfg *config.Config) (*Monitor, error) {
	st, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:   cfg,
		store: st,
		hub:   ws.NewHub(),
	}

	// The hub is the primary sink; Kafka mirrors it when enabled. The
	// dispatcher in front keeps publishing fire-and-forget for the
	// pipeline.
	var sink notify.Notifier = m.hub
	if cfg.Kafka.Enabled {
		m.kafka = notify.NewKafkaPublisher(cfg.Kafka)
		sink = notify.Multi{m.hub, m.kafka}
	}

	m.dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
		Sink:      sink,
		QueueSize: cfg.Events.QueueSize,
		Workers:   cfg.Events.Workers,
	})

	events := notify.NewEvents(m.dispatcher)
	alertManager := alerts.NewManager(st, events)

	var evaluator rules.Evaluator = rules.NewNoop()
	if cfg.Alerting.Enabled {
		evaluator = rules.NewEngine(st, alertManager)
	}

	m.pipe = pipeline.New(pipeline.Config{
		Store:     st,
		Evaluator: evaluator,
		Events:    events,
		Alerts:    alertManager,
	})

	m.listener = mqttlistener.New(cfg.MQTT, m.pipe)
	m.watchdog = NewWatchdog(st, events, cfg.Watchdog)

	return m, nil
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case "postgres":
		return store.NewPostgres(cfg.DSN)
	case "memory", "":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Run starts background goroutines and blocks until the context is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	log := logger.WithComponent("monitor")
	log.Info().Msg("monitor starting")

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go m.hub.Run(hubCtx)

	m.dispatcher.Start()

	// A broker that is down must not take the HTTP ingestion path
	// with it; the listener reconnects once the broker returns.
	if err := m.listener.Start(ctx); err != nil {
		log.Error().Err(err).Msg("mqtt listener failed to start, continuing without it")
		m.listener = nil
	}

	if m.cfg.Watchdog.Enabled {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.watchdog.Run(ctx)
		}()
	}

	m.initHTTPServer()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		log.Info().Str("addr", m.cfg.HTTP.Addr).Msg("starting HTTP server")
		if err := m.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return m.shutdown(hubCancel)
}

func (m *Monitor) initHTTPServer() {
	mux := http.NewServeMux()

	readings := handlers.NewReadingsHandler(m.pipe, m.cfg.HTTP.MaxBodySize)
	alertActions := handlers.NewAlertsHandler(m.pipe)

	chain := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, middleware.Recovery, middleware.Logging)
	}

	mux.Handle("POST /api/readings", chain(readings.IngestSingle))
	mux.Handle("POST /api/readings/batch", chain(readings.IngestBatch))
	mux.Handle("POST /api/alerts/{id}/acknowledge", chain(alertActions.Acknowledge))
	mux.Handle("POST /api/alerts/{id}/resolve", chain(alertActions.Resolve))

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(m.hub, w, r)
	})

	mux.HandleFunc("/health", m.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	m.httpServer = &http.Server{
		Addr:         m.cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// shutdown stops components in dependency order: transports first so
// nothing new enters, then the dispatcher so queued events drain,
// then the sinks.
func (m *Monitor) shutdown(hubCancel context.CancelFunc) error {
	log := logger.WithComponent("monitor")
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := m.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if m.listener != nil {
		log.Info().Msg("stopping mqtt listener")
		m.listener.Stop()
	}

	log.Info().Msg("stopping event dispatcher")
	m.dispatcher.Stop()

	hubCancel()

	if m.kafka != nil {
		if err := m.kafka.Close(); err != nil {
			log.Error().Err(err).Msg("kafka publisher close error")
		}
	}

	if err := m.store.Close(); err != nil {
		log.Error().Err(err).Msg("store close error")
	}

	m.wg.Wait()

	log.Info().Msg("monitor stopped gracefully")
	return nil
}

// reportStats periodically logs throughput counters.
func (m *Monitor) reportStats(ctx context.Context) {
	log := logger.WithComponent("monitor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := m.dispatcher.Stats()
			event := log.Info().
				Uint64("events_delivered", stats.Delivered).
				Uint64("events_dropped", stats.Dropped).
				Int("events_queued", stats.Queued)
			if m.kafka != nil {
				sent, failed := m.kafka.Stats()
				event = event.Uint64("kafka_sent", sent).Uint64("kafka_failed", failed)
			}
			event.Msg("stats")
		}
	}
}

// healthHandler reports store connectivity.
func (m *Monitor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := m.store.Ping(ctx); err != nil {
		http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}
