package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/db"
	"github.com/thatsimonsguy/uf-controller/internal/api"
	"github.com/thatsimonsguy/uf-controller/internal/config"
	"github.com/thatsimonsguy/uf-controller/internal/controller"
	"github.com/thatsimonsguy/uf-controller/internal/controllers/failsafecontroller"
	"github.com/thatsimonsguy/uf-controller/internal/datadog"
	"github.com/thatsimonsguy/uf-controller/internal/events"
	"github.com/thatsimonsguy/uf-controller/internal/gpio"
	"github.com/thatsimonsguy/uf-controller/internal/logging"
	"github.com/thatsimonsguy/uf-controller/internal/mqtt"
	"github.com/thatsimonsguy/uf-controller/internal/notifications"
	"github.com/thatsimonsguy/uf-controller/internal/scheduler"
	"github.com/thatsimonsguy/uf-controller/internal/sequencer"
	"github.com/thatsimonsguy/uf-controller/internal/store"
	"github.com/thatsimonsguy/uf-controller/system/shutdown"
)

const eventQueueSize = 256

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("driver", cfg.GPIO.Driver).
		Str("timings_file", cfg.TimingsFile).
		Msg("Starting UF controller")

	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED - relay pins will not be driven")
	}

	relays, err := gpio.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize relay driver")
	}
	if err := gpio.VerifySafeState(relays); err != nil {
		shutdown.ShutdownWithError(relays, err, "Refusing to run with relays in an unsafe state")
	}

	var (
		sinks     []events.Sink
		dbConn    *sql.DB
		publisher *mqtt.Publisher
		alerts    controller.Alerter
	)

	if cfg.Journal.Enabled {
		dbConn, err = db.Open(cfg.Journal.Path)
		if err != nil {
			shutdown.ShutdownWithError(relays, err, "Failed to open run journal")
		}
		if n, err := db.CloseDanglingRuns(dbConn, time.Now()); err != nil {
			log.Warn().Err(err).Msg("Failed to close dangling runs")
		} else if n > 0 {
			log.Warn().Int64("runs", n).Msg("Marked runs left open by the last shutdown as interrupted")
		}
		sinks = append(sinks, db.NewJournal(dbConn))
	}

	metrics := datadog.New(cfg.Datadog)
	if metrics != nil {
		sinks = append(sinks, metrics)
	}

	if cfg.MQTT.Enabled {
		publisher, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			log.Warn().Err(err).Msg("MQTT unavailable, continuing without it")
		} else {
			sinks = append(sinks, publisher)
		}
	}

	if ntfy := notifications.New(cfg.Ntfy.Topic); ntfy != nil {
		alerts = ntfy
		sinks = append(sinks, notifications.NewCycleAlerts(ntfy))
	}

	dispatcher := events.NewDispatcher(eventQueueSize, sinks...)
	loop := scheduler.NewLoop()
	seq := sequencer.New(relays, store.New(cfg.TimingsFile), loop)
	seq.SetListener(dispatcher)
	ctl := controller.New(loop, seq, relays, controller.Options{Alerts: alerts, Events: dispatcher})

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
		log.Info().Msg("Scheduler loop stopped")
	}()

	if cfg.Failsafe.Enabled {
		fs := failsafecontroller.New(relays, ctl, cfg.Failsafe.TripAfter)
		failsafecontroller.RunFailsafeController(ctx, fs, time.Duration(cfg.Failsafe.PollIntervalSeconds)*time.Second)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- api.NewServer(ctl, dbConn).Start(cfg.API.Listen)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	reason := ""
	select {
	case sig := <-sigs:
		reason = "received " + sig.String()
	case err := <-serverErr:
		log.Error().Err(err).Msg("REST API server failed")
		reason = "api server failed"
	}

	log.Info().Str("reason", reason).Msg("Shutting down UF controller")
	if err := ctl.EmergencyStop(reason); err != nil {
		log.Error().Err(err).Msg("Emergency stop through the scheduler failed")
	}

	cancel()
	<-loopDone
	dispatcher.Wait()

	publisher.Close()
	metrics.Close()
	if dbConn != nil {
		dbConn.Close()
	}
	shutdown.Shutdown(relays)
}
