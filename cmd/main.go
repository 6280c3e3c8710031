package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryostat_controller/internal/control"
	"cryostat_controller/internal/handlers"
	"cryostat_controller/internal/instrument"
	"cryostat_controller/internal/instrument/bluefors"
	"cryostat_controller/internal/instrument/sim"
	"cryostat_controller/internal/logger"
	"cryostat_controller/internal/metrics"
	"cryostat_controller/internal/models"
	"cryostat_controller/internal/repository"
	"cryostat_controller/internal/repository/db"
	"cryostat_controller/internal/server"
	"cryostat_controller/internal/service"
	"cryostat_controller/internal/stability"
	"cryostat_controller/internal/telemetry"
	"cryostat_controller/internal/window"

	"github.com/spf13/viper"
)

func main() {
	// load config.yml, then init the logger at the configured level
	cfgErr := loadConfig()
	log := logger.Get(viper.GetString("log_level"))
	if cfgErr != nil {
		log.Fatalw("error reading config", "err", cfgErr)
	}

	// open DB
	sqlDB, err := openDB(log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()
	repos := repository.NewRepository(sqlDB)

	// instrument bindings (real fridge or built-in simulator)
	sensorName := viper.GetString("monitor.sensor")
	sensor, heater, scanner, err := buildInstrument(log, sensorName)
	if err != nil {
		log.Fatalw("failed to build instrument bindings", "err", err)
	}

	// sampling windows: a short one for the stability fit, a longer one
	// for the reported statistics
	stabWin, err := window.New(viper.GetDuration("monitor.ttl"), viper.GetDuration("monitor.full_time"))
	if err != nil {
		log.Fatalw("invalid stability window config", "err", err)
	}
	statsWin, err := window.New(viper.GetDuration("monitor.stats_ttl"), viper.GetDuration("monitor.stats_full_time"))
	if err != nil {
		log.Fatalw("invalid statistics window config", "err", err)
	}

	// stability detector over the sampled signal
	detector := stability.NewDetector(stability.Config{
		Name:      sensorName,
		Interval:  viper.GetDuration("monitor.interval"),
		Tolerance: viper.GetFloat64("monitor.tolerance"),
		MaxKelvin: viper.GetFloat64("monitor.max_kelvin"),
	}, sensor, stabWin, log, statsWin)
	wireObservers(detector, heater, repos.EventRepo, sensorName, stabWin, statsWin, log)

	controller, err := control.NewController(scanner, sensorName, log)
	if err != nil {
		log.Fatalw("failed to build control session manager", "err", err)
	}

	services := service.NewService(service.Deps{
		Sensor:      sensorName,
		Detector:    detector,
		StatsWindow: statsWin,
		Controller:  controller,
		Heater:      heater,
		WaitTimeout: viper.GetDuration("calibration.wait_timeout"),
		Repos:       repos,
		Log:         log,
	})
	apiHandler := handlers.NewHandler(services, log)

	// start background loops
	detector.Start()
	streamer, pub, err := startTelemetry(services, log)
	if err != nil {
		log.Fatalw("failed to connect telemetry publisher", "err", err)
	}

	stopBackground := func() {
		detector.Stop()
		if streamer != nil {
			streamer.Stop()
		}
		if pub != nil {
			if cerr := pub.Close(); cerr != nil {
				log.Errorw("failed to close telemetry publisher", "err", cerr)
			}
		}
	}

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, viper.GetString("port"), apiHandler, log)

	// graceful shutdown
	waitForShutdown(stopBackground, srv, log)
}

func loadConfig() error {
	viper.AddConfigPath("configs") // configs/config.yml
	viper.SetConfigName("config")

	viper.SetDefault("port", "8080")
	viper.SetDefault("log_level", logger.InfoLevel)
	viper.SetDefault("instrument.driver", "sim")
	viper.SetDefault("monitor.sensor", "mxc")
	viper.SetDefault("monitor.heater", "sample")
	viper.SetDefault("monitor.interval", time.Second)
	viper.SetDefault("monitor.ttl", 10*time.Minute)
	viper.SetDefault("monitor.full_time", 5*time.Minute)
	viper.SetDefault("monitor.stats_ttl", 30*time.Minute)
	viper.SetDefault("monitor.stats_full_time", 30*time.Minute)
	viper.SetDefault("monitor.tolerance", 0.001)
	viper.SetDefault("calibration.wait_timeout", 30*time.Minute)
	viper.SetDefault("mqtt.interval", 5*time.Second)
	viper.SetDefault("mqtt.client_id", "cryostat-controller")

	return viper.ReadInConfig()
}

// openDB initializes the SQLite database using configuration.
func openDB(log *logger.Logger) (*sql.DB, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "cryostat.db")
		dbPath = "cryostat.db"
	}
	return db.InitDB(dbPath)
}

// buildInstrument resolves the sensor, heater and scanner bindings for the
// configured driver: "bluefors" talks to the fridge's HTTP API, "sim" runs
// the in-process cryostat model.
func buildInstrument(log *logger.Logger, sensorName string) (instrument.Sensor, instrument.Heater, instrument.Scanner, error) {
	switch driver := viper.GetString("instrument.driver"); driver {
	case "bluefors":
		opts := []bluefors.Option{}
		if viper.GetBool("bluefors.insecure_tls") {
			opts = append(opts, bluefors.WithInsecureTLS())
		}
		client := bluefors.New(viper.GetString("bluefors.addr"), viper.GetString("bluefors.key"), log, opts...)
		sensor, err := client.Sensor(sensorName)
		if err != nil {
			return nil, nil, nil, err
		}
		return sensor, client.Heater(viper.GetString("monitor.heater")), client.Scanner(), nil
	case "sim":
		cryo := sim.New()
		sensor, err := cryo.Sensor(sensorName)
		if err != nil {
			return nil, nil, nil, err
		}
		return sensor, cryo.Heater(), cryo.Scanner(), nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown instrument driver %q", driver)
	}
}

// wireObservers hooks the detector into the metrics and the event log. The
// overtemperature guard additionally forces the heater off.
func wireObservers(detector *stability.Detector, heater instrument.Heater,
	events repository.EventRepo, sensorName string,
	stabWin, statsWin *window.SlidingWindow, log *logger.Logger) {

	detector.OnSample(func(v float64) {
		metrics.TemperatureKelvin.WithLabelValues(sensorName).Set(v)
		metrics.WindowSamples.WithLabelValues(sensorName).Set(float64(stabWin.Len()))
		if m, err := statsWin.Mean(); err == nil {
			metrics.WindowMeanKelvin.WithLabelValues(sensorName).Set(m)
		}
		if s, err := statsWin.Std(); err == nil {
			metrics.WindowStdKelvin.WithLabelValues(sensorName).Set(s)
		}
		if sp, err := statsWin.Span(); err == nil {
			metrics.WindowSpanKelvin.WithLabelValues(sensorName).Set(sp)
		}
	})

	detector.OnReadError(func(err error) {
		metrics.ReadFailures.WithLabelValues(sensorName).Inc()
	})

	detector.OnTransition(func(stable bool, since time.Time, drift, rSquared float64) {
		metrics.ObserveStability(sensorName, stable, drift)
		to, desc := "unstable", "signal lost stability"
		meta := map[string]any{
			"sensor":       sensorName,
			"drift_kelvin": drift,
			"r_squared":    rSquared,
		}
		if stable {
			to, desc = "stable", "signal stabilized"
			meta["stable_since"] = since.UTC()
		}
		metrics.StabilityTransitions.WithLabelValues(sensorName, to).Inc()
		appendEvent(events, log, models.EventStability, desc, meta)
	})

	detector.OnOvertemp(func(v float64) {
		metrics.OvertempEvents.WithLabelValues(sensorName).Inc()
		appendEvent(events, log, models.EventOvertemp, "maximum temperature exceeded, heater forced off",
			map[string]any{"sensor": sensorName, "kelvin": v, "max_kelvin": viper.GetFloat64("monitor.max_kelvin")})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := instrument.TurnOff(ctx, heater); err != nil {
			log.Errorw("failed to force heater off after overtemperature", "err", err)
			return
		}
		appendEvent(events, log, models.EventHeater, "heater forced off",
			map[string]any{"reason": "overtemperature", "sensor": sensorName})
	})
}

func appendEvent(events repository.EventRepo, log *logger.Logger, eventType, desc string, meta map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := events.Append(ctx, models.ControlEvent{
		Type:        eventType,
		Description: desc,
		Metadata:    meta,
	}); err != nil {
		log.Errorw("failed to append control event", "type", eventType, "err", err)
	}
}

// startTelemetry connects the MQTT publisher and starts the snapshot
// streamer when mqtt.enabled is set. Disabled telemetry returns nils.
func startTelemetry(src telemetry.Snapshotter, log *logger.Logger) (*telemetry.Streamer, telemetry.Publisher, error) {
	if !viper.GetBool("mqtt.enabled") {
		return nil, nil, nil
	}
	pub, err := telemetry.NewRealPublisher(viper.GetString("mqtt.broker"), viper.GetString("mqtt.client_id"))
	if err != nil {
		return nil, nil, err
	}
	streamer := telemetry.NewStreamer(pub, src, viper.GetDuration("mqtt.interval"), log)
	streamer.Start()
	return streamer, pub, nil
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful
// shutdown: background loops first, then in-flight HTTP requests.
func waitForShutdown(stopBackground func(), srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down...")

	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
