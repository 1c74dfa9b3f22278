// Package main runs the screening and labeling jobs on their cron schedules
// and serves health, metrics and job status over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"covered-call-lab/internal/archival"
	"covered-call-lab/internal/config"
	"covered-call-lab/internal/logging"
	"covered-call-lab/internal/observability"
	"covered-call-lab/internal/pipeline"
	"covered-call-lab/internal/reporting"
	"covered-call-lab/internal/scheduler"
)

// Server owns the process-wide stores, providers and scheduler.
type Server struct {
	cfg       config.Config
	stores    *pipeline.Stores
	providers pipeline.Providers
	sched     *scheduler.Scheduler
	logger    *zap.Logger
	started   time.Time
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config (CCL_* env vars override)")
	runNow := flag.Bool("run-now", false, "Run screening then labeling once at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, err := pipeline.OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("open stores", zap.Error(err))
		os.Exit(1)
	}
	defer stores.Close()

	s := &Server{
		cfg:       cfg,
		stores:    stores,
		providers: pipeline.NewProviders(cfg, logger),
		sched:     scheduler.New(ctx, logger, cfg.Cron.Location()),
		logger:    logger,
		started:   time.Now().UTC(),
	}

	if err := s.Run(ctx, *runNow); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// Run registers the jobs, starts the scheduler and HTTP server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context, runNow bool) error {
	if err := s.register(); err != nil {
		return err
	}
	if s.cfg.Cron.Enabled {
		s.sched.Start()
		defer s.sched.Stop()
	} else {
		s.logger.Info("cron disabled, jobs run only on trigger")
	}

	srv := &http.Server{
		Addr:              s.cfg.Server.MetricsAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if runNow {
		go func() {
			for _, name := range []string{observability.JobScreening, observability.JobLabeling} {
				if err := s.sched.Trigger(name); err != nil {
					s.logger.Warn("startup run failed", zap.String("job", name), zap.Error(err))
				}
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		s.logger.Warn("http shutdown", zap.Error(serr))
	}
	return err
}

func (s *Server) register() error {
	if err := s.sched.Add(observability.JobScreening, s.cfg.Cron.Screening, s.runScreening); err != nil {
		return err
	}
	return s.sched.Add(observability.JobLabeling, s.cfg.Cron.Labeling, s.runLabeling)
}

func (s *Server) runScreening(ctx context.Context) error {
	opts := pipeline.ScreeningOptionsFromConfig(s.cfg)
	opts.Chains = s.providers.Chains
	opts.Rates = s.providers.Rates
	opts.Records = s.stores.Records
	opts.Output = s.stores.Output
	opts.RunLog = s.stores.RunLog
	opts.Exporter = reporting.NewExporter(s.cfg.Output.Dir)
	opts.Logger = s.logger

	_, err := pipeline.NewScreeningJob(opts).Run(ctx)
	return err
}

func (s *Server) runLabeling(ctx context.Context) error {
	machine, err := pipeline.NewMachineFromConfig(s.cfg.Labeling, s.providers.Closes, s.logger)
	if err != nil {
		return err
	}
	_, err = pipeline.NewLabelingJob(pipeline.LabelingOptions{
		Records:     s.stores.Records,
		Machine:     machine,
		Training:    s.stores.Training,
		Archiver:    archival.NewManager(s.stores.Records, s.cfg.RetentionDays(), s.logger),
		RunLog:      s.stores.RunLog,
		Exporter:    reporting.NewExporter(s.cfg.Output.Dir),
		Concurrency: s.cfg.App.Concurrency,
		Logger:      s.logger,
	}).Run(ctx)
	return err
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /jobs/{name}/run", s.handleTrigger)
	return mux
}

// JobStatus is one job in the /status response.
type JobStatus struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Running bool      `json:"running"`
	LastRun time.Time `json:"last_run,omitempty"`
	LastErr string    `json:"last_error,omitempty"`
	NextRun time.Time `json:"next_run,omitempty"`
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status   string      `json:"status"`
	Uptime   string      `json:"uptime"`
	Started  time.Time   `json:"started"`
	Timezone string      `json:"timezone"`
	Cron     bool        `json:"cron_enabled"`
	Jobs     []JobStatus `json:"jobs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:   "running",
		Uptime:   time.Since(s.started).Truncate(time.Second).String(),
		Started:  s.started,
		Timezone: s.cfg.Cron.Location().String(),
		Cron:     s.cfg.Cron.Enabled,
	}
	for _, st := range s.sched.Statuses() {
		resp.Jobs = append(resp.Jobs, JobStatus{
			Name:    st.Name,
			Spec:    st.Spec,
			Running: st.Running,
			LastRun: st.LastRun,
			LastErr: st.LastErr,
			NextRun: st.Next,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("encode status", zap.Error(err))
	}
}

// handleTrigger runs a job in the background and returns 202.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	known := false
	for _, st := range s.sched.Statuses() {
		if st.Name == name {
			known = true
			if st.Running {
				http.Error(w, scheduler.ErrAlreadyRunning.Error(), http.StatusConflict)
				return
			}
		}
	}
	if !known {
		http.Error(w, scheduler.ErrUnknownJob.Error(), http.StatusNotFound)
		return
	}

	go func() {
		if err := s.sched.Trigger(name); err != nil {
			s.logger.Warn("triggered run failed", zap.String("job", name), zap.Error(err))
		}
	}()
	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, "%s started\n", name)
}
