package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/callbridge/internal/bridge"
	"github.com/soyeahso/callbridge/internal/calls"
	"github.com/soyeahso/callbridge/internal/config"
	"github.com/soyeahso/callbridge/internal/domain"
	"github.com/soyeahso/callbridge/internal/gateway"
	"github.com/soyeahso/callbridge/internal/hooks"
	"github.com/soyeahso/callbridge/internal/housekeeping"
	"github.com/soyeahso/callbridge/internal/logging"
	"github.com/soyeahso/callbridge/internal/metrics"
	"github.com/soyeahso/callbridge/internal/relay"
	"github.com/soyeahso/callbridge/internal/responder"
	"github.com/soyeahso/callbridge/internal/session"
	"github.com/soyeahso/callbridge/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the call gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating state directories: %w", err)
			}

			root, closer, err := logging.Open(logging.Options{
				Level: cfg.Logging.Level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			defer closer.Close()

			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				raw = make(map[string]any)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, raw, root)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}

// openRecords returns the configured call record store and a release func.
func openRecords(cfg config.Config, log *logging.Logger) (domain.CallRecordStore, func(), error) {
	if cfg.Store.Driver == "memory" {
		log.Info().Msg("using in-memory call record store")
		return store.NewMemoryCallRecords(), func() {}, nil
	}
	dbPath := paths.DatabasePath(cfg.Store)
	db, err := store.Open(dbPath, log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info().Str("path", dbPath).Msg("using SQLite call record store")
	return store.NewSQLiteCallRecords(db), func() { db.Close() }, nil
}

// serve wires every component and runs them until ctx is cancelled or one
// of them fails.
func serve(ctx context.Context, cfg config.Config, raw map[string]any, log *logging.Logger) error {
	var m *metrics.Metrics
	if config.Flag(cfg.Metrics.Enabled, true) {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	hookMgr := hooks.NewManager(log)
	hooks.RegisterConfig(hookMgr, cfg.Hooks)

	records, release, err := openRecords(cfg, log)
	if err != nil {
		return err
	}
	defer release()

	sessions := session.NewStore()
	hub := gateway.NewHub(m, log)
	rl := relay.New(sessions, hub, records, log, relay.WithHooks(hookMgr), relay.WithMetrics(m))

	// The in-process queue feeds the responder; it also backs
	// /api/voice/bridge so an external forwarder can target this server.
	// That route sits behind gateway auth, so such a forwarder needs
	// bridge.token.
	responderOn := config.Flag(cfg.Responder.Enabled, true)
	var queue *bridge.QueueForwarder
	if responderOn {
		queue = bridge.NewQueueForwarder(cfg.Bridge.QueueSize, m, log)
	}

	var (
		forwarder domain.Forwarder
		httpFwd   *bridge.HTTPForwarder
	)
	switch {
	case cfg.Bridge.Mode == "http":
		timeout := time.Duration(cfg.Bridge.TimeoutMs) * time.Millisecond
		httpFwd = bridge.NewHTTPForwarder(cfg.Bridge.Endpoint, timeout, cfg.Bridge.MaxInFlight, m, log,
			bridge.WithAuthToken(cfg.Bridge.Token))
		forwarder = httpFwd
		log.Info().Str("endpoint", cfg.Bridge.Endpoint).Msg("forwarding utterances over HTTP")
	case queue != nil:
		forwarder = queue
	default:
		forwarder = discardForwarder{log: log}
		log.Warn().Msg("responder disabled and bridge mode is local, utterances will not be processed")
	}

	mgr := calls.NewManager(sessions, hub, records, forwarder, rl, log,
		calls.WithHooks(hookMgr), calls.WithMetrics(m))

	agents := responder.NewDirectory(cfg.Agents)
	opts := []gateway.ServerOption{
		gateway.WithConfigRaw(raw),
		gateway.WithHooks(hookMgr),
		gateway.WithMetrics(m),
		gateway.WithAgents(agents),
	}

	var worker *responder.Worker
	if responderOn {
		gen, err := responder.NewFromConfig(cfg.Responder, log)
		if err != nil {
			return err
		}
		worker = responder.NewWorker(gen, mgr, agents, cfg.Responder.Workers, m, log)
		opts = append(opts, gateway.WithUtteranceSink(queue), gateway.WithProcessor(worker))
	}

	srv := gateway.New(cfg, hub, mgr, log, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })

	if worker != nil {
		g.Go(func() error { return worker.Run(gctx, queue.Utterances()) })
	}

	if config.Flag(cfg.Housekeeping.Enabled, true) {
		sweeper, err := housekeeping.NewSweeper(cfg.Housekeeping.SweepSchedule, mgr.SweepEnded, log)
		if err != nil {
			return err
		}
		g.Go(func() error { return sweeper.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		if queue != nil {
			queue.Close()
		}
		if httpFwd != nil {
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpFwd.Close(drainCtx); err != nil {
				log.Warn().Err(err).Msg("in-flight forwards abandoned")
			}
		}
		return nil
	})

	return g.Wait()
}

// discardForwarder drops utterances when nothing is configured to process them.
type discardForwarder struct{ log *logging.Logger }

func (d discardForwarder) Forward(u domain.Utterance) {
	d.log.Debug().Str("callId", u.CallID).Msg("utterance discarded")
}
