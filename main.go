package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cellbridge/smsgw/modem"
	"github.com/cellbridge/smsgw/queue"
	"github.com/cellbridge/smsgw/voice"
	"github.com/cellbridge/smsgw/webhook"
)

func main() {
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("sim-pin", "", "SIM card PIN code (if required)")
	flag.String("db-path", "smsgw.db", "SQLite file backing the job queue")
	flag.String("webhook-url", "", "URL receiving inbound messages")
	flag.Bool("inbound", false, "Enable inbound message handling")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	store, err := queue.Open(config.DBPath)
	if err != nil {
		logger.Error("Failed to open job store", "error", err, "path", config.DBPath)
		os.Exit(1)
	}
	defer store.Close()

	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(5 * time.Second).
		WithInitTimeout(30 * time.Second).
		WithSimPIN(config.SimPIN).
		WithInbound(config.InboundEnabled).
		WithDialer(modem.SerialDialer{
			PortName:  config.SerialPort,
			BaudRate:  config.BaudRate,
			BootDelay: config.BootDelay,
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	m, err := modem.New(context.Background(), modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	audio := &voice.ExecAudio{
		PlaybackDevice: config.PlaybackDevice,
		CaptureDevice:  config.CaptureDevice,
	}
	caller := voice.NewController(voice.ControllerConfig{
		Modem:  m,
		TTS: voice.NewTTSClient(voice.TTSConfig{
			Endpoint: config.TTSEndpoint,
			APIKey:   config.TTSAPIKey,
			Model:    config.TTSModel,
			Voice:    config.TTSVoice,
		}),
		Player: audio,
		Bridge: voice.NewRealtimeBridge(voice.RealtimeConfig{
			URL:          config.RealtimeURL,
			APIKey:       config.RealtimeAPIKey,
			Instructions: config.RealtimeInstructions,
			Audio:        audio,
			Logger:       logger.With("component", "realtime"),
		}),
		Logger: logger.With("component", "voice"),
	})

	sched := queue.NewScheduler(queue.SchedulerConfig{
		Store:              store,
		Sender:             m,
		Webhook:            webhook.NewClient(config.WebhookURL, nil),
		Caller:             caller,
		Gate:               caller,
		Logger:             logger.With("component", "scheduler"),
		SuccessDelay:       config.SuccessDelay,
		FailureDelay:       config.FailureDelay,
		MaxSendAttempts:    config.MaxSendAttempts,
		MaxWebhookAttempts: config.MaxWebhookAttempts,
	})

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: (&Server{
			Logger: logger.With("component", "server"),
			Store:  store,
			Sched:  sched,
			Modem:  m,
		}).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting modem loop", "port", config.SerialPort)
		return m.Loop(ctx)
	})

	g.Go(func() error {
		// A crashed previous run can leave the modem stuck inside an SMS
		// prompt or a data session; recover it before dispatch starts.
		if err := m.EnsureReady(ctx); err != nil {
			return err
		}
		logger.Info("Starting scheduler")
		return sched.Run(ctx)
	})

	if config.InboundEnabled {
		watcher := queue.NewWatcher(store, m, m, sched, logger.With("component", "inbound"))
		g.Go(func() error {
			logger.Info("Starting inbound watcher")
			return watcher.Run(ctx)
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		logger.Info("Closing modem connection")
		if err := m.Close(); err != nil {
			logger.Error("Failed to close modem", "error", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Info("Closing HTTP server")
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Gateway terminated", "error", err)
		os.Exit(1)
	}
	logger.Info("Gateway stopped")
}
