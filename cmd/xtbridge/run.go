package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"xtbridge/internal/audit"
	"xtbridge/internal/bar"
	"xtbridge/internal/busclient"
	"xtbridge/internal/config"
	"xtbridge/internal/control"
	"xtbridge/internal/engine"
	"xtbridge/internal/health"
	"xtbridge/internal/logging"
	"xtbridge/internal/metrics"
	"xtbridge/internal/opsdash"
	"xtbridge/internal/publish"
	"xtbridge/internal/quote"
	"xtbridge/internal/registry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge until SIGINT/SIGTERM",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			exitf(1, "loading config: %v", err)
		}
		runBridge(cfg)
	},
}

func runBridge(cfg *config.Config) {
	log := logging.New(cfg.Logging)
	log.Info().Str("config", configPath).Msg("starting xtbridge")

	bus, err := busclient.New(cfg.Redis)
	if err != nil {
		exitf(1, "connecting to bus: %v", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	pingErr := bus.Ping(ctx)
	cancel()
	if pingErr != nil {
		exitf(1, "bus unreachable: %v", pingErr)
	}

	var auditSink *audit.Sink
	if cfg.Audit.Enabled {
		actx, acancel := context.WithTimeout(context.Background(), 5*time.Second)
		auditSink, err = audit.New(actx, cfg.Audit.DSN)
		acancel()
		if err != nil {
			log.Warn().Err(err).Msg("audit sink unavailable, continuing without auditing")
			auditSink = nil
		} else {
			defer auditSink.Close()
			log.Info().Msg("audit sink connected")
		}
	}

	source, err := buildSource(cfg, log)
	if err != nil {
		exitf(1, "building quote source: %v", err)
	}
	defer source.Close()

	guard := publish.NewGuard(bar.Mode(cfg.Subscription.Mode))
	m := metrics.New()
	pub := publish.New(bus, cfg.Redis.Topic, guard, m, log)

	eng := engine.New(source, pub, m, log, bar.Mode(cfg.Subscription.Mode))
	defer eng.Stop()

	reg := registry.New(bus, cfg.Control.RegistryPrefix)

	rootCtx, stopRoot := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopRoot()

	if len(cfg.Subscription.Codes) > 0 {
		periods, perr := parsePeriodStrings(cfg.Subscription.Periods)
		if perr != nil {
			exitf(1, "subscription.periods: %v", perr)
		}
		if err := eng.AddSubscription(rootCtx, cfg.Subscription.Codes, periods, bar.Mode(cfg.Subscription.Mode), cfg.Subscription.PreloadDays); err != nil {
			exitf(1, "static subscription failed: %v", err)
		}
		log.Info().Strs("codes", cfg.Subscription.Codes).Msg("static subscription active")
	}

	var auditBridge control.AuditSink
	if auditSink != nil {
		auditBridge = auditSink
	}

	var cp *control.ControlPlane
	if cfg.Control.Enabled {
		cp = control.New(bus, reg, eng, control.Config{
			Channel:            cfg.Control.Channel,
			AckPrefix:          cfg.Control.AckPrefix,
			AcceptStrategies:   cfg.Control.AcceptStrategies,
			DefaultPreloadDays: cfg.Subscription.PreloadDays,
			DefaultTopic:       cfg.Redis.Topic,
			DefaultMode:        bar.Mode(cfg.Subscription.Mode),
		}, auditBridge, log)
		go cp.Run(rootCtx)
		defer cp.Stop()
		log.Info().Str("channel", cfg.Control.Channel).Msg("control plane listening")
	}

	var reporter *health.Reporter
	if cfg.Health.Enabled {
		reporter = health.New(bus, cfg.Health.KeyPrefix, health.InstanceID(cfg.Health.InstanceTag),
			time.Duration(cfg.Health.IntervalSec)*time.Second, time.Duration(cfg.Health.TTLSec)*time.Second,
			map[string]any{"mode": cfg.Subscription.Mode}, log)
		go reporter.Run(rootCtx)
		defer reporter.Stop()
		log.Info().Msg("health reporter running")
	}

	var dashSrv *opsdash.Server
	if cfg.Dashboard.Enabled {
		hub := opsdash.NewHub(log)
		go hub.Run()
		defer hub.Stop()

		broadcaster := opsdash.NewBroadcaster(hub, eng, reporter)
		go broadcaster.Run(rootCtx)

		dashSrv = opsdash.NewServer(cfg.Dashboard.ListenAddr, hub, log)
		go func() {
			if err := dashSrv.ListenAndServe(); err != nil {
				log.Warn().Err(err).Msg("ops dashboard server exited")
			}
		}()
		log.Info().Str("addr", cfg.Dashboard.ListenAddr).Msg("ops dashboard serving")
	}

	log.Info().Msg("xtbridge operational, waiting for shutdown signal")
	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received, draining")

	if dashSrv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = dashSrv.Shutdown(sctx)
		scancel()
	}
}

// buildSource selects the QuoteSource implementation per cfg.QMT.Mode. The
// mock feed is used when qmt.mode is "none" so `run` is usable without a
// live vendor connection.
func buildSource(cfg *config.Config, log zerolog.Logger) (quote.Source, error) {
	switch cfg.QMT.Mode {
	case "legacy":
		return quote.NewLegacySource(cfg.QMT.Token)
	default:
		intervalMs := cfg.Mock.IntervalMs
		log.Info().Int("interval_ms", intervalMs).Msg("using mock quote source")
		return quote.NewMockSource(intervalMs), nil
	}
}

func parsePeriodStrings(raw []string) ([]bar.Period, error) {
	out := make([]bar.Period, 0, len(raw))
	for _, r := range raw {
		p := bar.Period(r)
		if !p.Valid() {
			return nil, &invalidPeriodError{raw: r}
		}
		out = append(out, p)
	}
	return out, nil
}

type invalidPeriodError struct{ raw string }

func (e *invalidPeriodError) Error() string { return "invalid period " + e.raw }
