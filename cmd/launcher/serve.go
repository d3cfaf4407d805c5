package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conix/hybridlauncher/agent"
	"github.com/conix/hybridlauncher/lifecycle"
	"github.com/conix/hybridlauncher/pubsub"
	"github.com/conix/hybridlauncher/worker"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
	"golang.org/x/sync/errgroup"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "connect to the broker and manage render workers",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "broker-url",
			Usage: "MQTT broker URL, e.g. tcp://localhost:1883. Overrides the config file.",
		},
		&cli.StringFlag{
			Name:  "admin-addr",
			Usage: "Address for the admin HTTP API to listen on. Overrides the config file.",
		},
		&cli.IntFlag{
			Name:  "prewarm",
			Usage: "Number of workers to start before any client connects. Overrides the config file.",
		},
		&cli.DurationFlag{
			Name:  "shutdown-timeout",
			Usage: "How long to wait for workers to stop on shutdown.",
			Value: 10 * time.Second,
		},
	},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		if ctx.IsSet("broker-url") {
			cfg.Broker.URL = ctx.String("broker-url")
		}
		if ctx.IsSet("admin-addr") {
			cfg.Admin.ListenAddr = ctx.String("admin-addr")
		}
		if ctx.IsSet("prewarm") {
			cfg.Worker.Prewarm = ctx.Int("prewarm")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer logger.Sync()
		log := logger.Sugar()

		sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		dialCtx, cancel := context.WithTimeout(sigCtx, cfg.Broker.ConnectTimeout)
		defer cancel()
		broker, err := pubsub.DialMQTT(dialCtx, log, pubsub.MQTTConfig{
			URL:            cfg.Broker.URL,
			ClientID:       cfg.Broker.ClientID,
			Username:       cfg.Broker.Username,
			Password:       cfg.Broker.Password,
			QoS:            byte(cfg.Broker.QoS),
			Retain:         cfg.Broker.RetainPairing,
			ConnectTimeout: cfg.Broker.ConnectTimeout,
		})
		if err != nil {
			return err
		}
		defer broker.Close()

		workerLog := logger.Named("worker")
		launcher := &worker.ExecLauncher{
			Log:     log.Named("worker_launcher"),
			Command: cfg.Worker.Command(),
			Stdout:  &zapio.Writer{Log: workerLog, Level: zap.DebugLevel},
			Stderr:  &zapio.Writer{Log: workerLog, Level: zap.WarnLevel},
		}

		topics := pubsub.Topics{Prefix: cfg.Topics.Prefix}
		ctrl := lifecycle.NewController(
			topics.Pairing(),
			lifecycle.WithStrictAccounting(cfg.Strict),
			lifecycle.WithClearPairing(cfg.Broker.RetainPairing),
			lifecycle.WithControllerLogger(log),
		)
		mgr := lifecycle.NewManager(ctrl, launcher, broker, lifecycle.WithManagerLogger(log))

		for kind, filter := range topics.Inbound() {
			kind := kind
			err := broker.Subscribe(sigCtx, filter, func(topic string, payload []byte) {
				mgr.HandlePayload(kind, payload)
			})
			if err != nil {
				return err
			}
		}
		mgr.Prewarm(cfg.Worker.Prewarm)

		adminOpts := []agent.Option{
			agent.WithLogger(logger),
			agent.WithListenAddr(cfg.Admin.ListenAddr),
		}
		if cfg.Admin.LogLevel != "" {
			level, err := zapcore.ParseLevel(cfg.Admin.LogLevel)
			if err != nil {
				return fmt.Errorf("parsing admin log level: %w", err)
			}
			adminOpts = append(adminOpts, agent.WithLogLevel(level))
		}
		admin := agent.NewServer(mgr, adminOpts...)

		group, groupCtx := errgroup.WithContext(sigCtx)
		group.Go(admin.Run)
		group.Go(func() error {
			<-groupCtx.Done()
			log.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), ctx.Duration("shutdown-timeout"))
			defer cancel()
			if err := admin.Stop(shutdownCtx); err != nil {
				log.Warnf("stopping admin server: %s", err)
			}
			if err := mgr.Close(shutdownCtx); err != nil {
				return fmt.Errorf("closing manager: %w", err)
			}
			return nil
		})

		log.Infow("launcher running",
			"Broker", cfg.Broker.URL,
			"Topics", cfg.Topics.Prefix,
			"Admin", cfg.Admin.ListenAddr,
			"Prewarm", cfg.Worker.Prewarm,
		)
		return group.Wait()
	},
}
