package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/moyuren/calendar/cache"
	"github.com/moyuren/calendar/config"
	"github.com/moyuren/calendar/fetch"
	"github.com/moyuren/calendar/gate"
	"github.com/moyuren/calendar/holiday"
	"github.com/moyuren/calendar/metrics"
	"github.com/moyuren/calendar/notify"
	"github.com/moyuren/calendar/render"
	"github.com/moyuren/calendar/sched"
	"github.com/moyuren/calendar/server"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "config file path")
	listenAddr := pflag.StringP("listenaddr", "l", "", "http listen address, overrides config")
	verbose := pflag.BoolP("verbose", "v", false, "Verbose output")
	pflag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	metrics.Init()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *listenAddr != "" {
		cfg.Listen.Addr = *listenAddr
	}

	store, err := cache.NewStore(cfg.Cache.Dir)
	if err != nil {
		log.Fatal(err)
	}
	quit := make(chan struct{})
	defer close(quit)
	go store.Cleanup(cfg.Cache.CleanupInterval(), cfg.Cache.RetentionAge(), quit)

	fetcher := fetch.NewFetcher(newRenderer(cfg))
	registry := fetch.NewRegistry(cfg.FetchEndpoints())
	g := gate.New(store, fetcher, registry)

	webhook := notify.NewWebhook(cfg.Webhook)
	scheduler := sched.New(sched.RealClock(), func(ctx context.Context, target string) {
		payload, contentType, err := g.Obtain(ctx, gate.DateKey(time.Now()), false)
		if err != nil {
			log.Errorf("Daily send for %s failed: %s", target, err)
			return
		}
		if err := webhook.SendImage(ctx, target, payload, contentType); err != nil {
			log.Errorf("Failed to deliver image to %s: %s", target, err)
		}
	})
	scheduler.Update(cfg.ScheduleSpecs())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Run(ctx)
	go reloadOnSIGHUP(*configPath, registry, scheduler)

	s, err := server.New(&server.Config{
		ListenAddr:    cfg.Listen.Addr,
		TLSListenAddr: cfg.Listen.TLSAddr,
		TLSOnly:       cfg.Listen.TLSOnly,
		TLS: &server.TLSConfig{
			CertFile: cfg.Listen.TLSCert,
			KeyFile:  cfg.Listen.TLSKey,
		},
		Verbose: *verbose,
	}, g, scheduler, func(specs []sched.Spec) error {
		return config.UpdateSchedules(*configPath, specs)
	})
	if err != nil {
		log.Fatal(err)
	}

	s.ListenAndServe()
}

// reloadOnSIGHUP swaps in a fresh endpoint and schedule snapshot from
// the config file
func reloadOnSIGHUP(path string, registry *fetch.Registry, scheduler *sched.Scheduler) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP)

	for range sigs {
		cfg, err := config.Load(path)
		if err != nil {
			log.Errorf("Config reload failed: %s", err)
			continue
		}
		registry.Replace(cfg.FetchEndpoints())
		scheduler.Update(cfg.ScheduleSpecs())
		log.Infof("Configuration reloaded from %s", path)
	}
}

// newRenderer wires the local render fallback, nil when unavailable
func newRenderer(cfg *config.Config) fetch.Renderer {
	if cfg.Render.Disabled {
		return nil
	}

	holidays, err := holiday.NewFetcher(cfg.HolidayCacheDir())
	if err != nil {
		log.Warnf("Holiday cache unavailable: %s", err)
	}

	r, err := render.NewWkhtml(cfg.Render.TempDir, render.NewDataProvider(holidays))
	if err != nil {
		log.Warnf("Local render fallback unavailable: %s", err)
		return nil
	}

	return r
}
