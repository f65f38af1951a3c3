package main

import (
	"github.com/spf13/cobra"

	"mini-broker/broker"
	"mini-broker/config"
	"mini-broker/log"
)

func newBrokerCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the broker: clients on the frontend, workers on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base := g.cfg
			changed, err := g.load(cmd, nil)
			if err != nil {
				return err
			}
			cfg := g.cfg

			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			topts, err := transportOptions(cfg)
			if err != nil {
				return err
			}
			reg, err := newRegistry(cfg)
			if err != nil {
				return err
			}
			if reg != nil {
				defer reg.Close()
			}

			b := broker.New(broker.Config{
				FrontendAddr:    cfg.FrontendAddr,
				BackendAddr:     cfg.BackendAddr,
				SocketKind:      cfg.SocketKind,
				Transport:       topts,
				MaxRedeliveries: cfg.MaxRedeliveries,
				FrontendRate:    cfg.FrontendRate,
				FrontendBurst:   cfg.FrontendBurst,
				AdminAddr:       cfg.AdminAddr,
				Registry:        reg,
				RegistryTTL:     int64(cfg.RegistryTTL),
				AdvertiseHost:   cfg.AdvertiseHost,
			}, logger)

			ctx, stop := signalContext()
			defer stop()

			if err := b.Start(ctx); err != nil {
				return err
			}
			logger.Info("broker running",
				log.String("frontend", b.FrontendAddr()),
				log.String("backend", b.BackendAddr()),
				log.String("admin", b.AdminAddr()),
			)

			if path := g.path(); path != "" && config.FileExists(path) {
				w := config.NewWatcher(path, base, changed, func(next config.Config) {
					if err := log.SetGlobalLevel(next.LogLevel); err != nil {
						logger.Warn("invalid log level", log.String("level", next.LogLevel))
					}
					b.SetFrontendRate(next.FrontendRate, next.FrontendBurst)
					logger.Info("broker settings applied",
						log.String("log_level", next.LogLevel),
						log.Any("rate", next.FrontendRate),
						log.Int("burst", next.FrontendBurst),
					)
				}, logger)
				go func() {
					if err := w.Run(ctx); err != nil {
						logger.Warn("config watcher stopped", log.Err(err))
					}
				}()
			}

			<-ctx.Done()
			logger.Info("received signal, stopping...")
			return b.Stop(cfg.ShutdownTimeout)
		},
	}

	f := cmd.Flags()
	c := &g.cfg
	f.StringVar(&c.FrontendAddr, "frontend", c.FrontendAddr, "client-facing bind address")
	f.StringVar(&c.BackendAddr, "backend", c.BackendAddr, "worker-facing bind address")
	f.StringVar(&c.SocketKind, "socket", c.SocketKind, "router implementation: tcp or zmq")
	f.StringVar(&c.AdminAddr, "admin", c.AdminAddr, "admin HTTP address (empty disables)")
	f.StringVar(&c.AdvertiseHost, "advertise-host", c.AdvertiseHost, "host registered for wildcard bind addresses")
	f.IntVar(&c.MaxRedeliveries, "max-redeliveries", c.MaxRedeliveries, "re-dispatches of a request whose worker vanished")
	f.Float64Var(&c.FrontendRate, "rate", c.FrontendRate, "admitted requests per second (0 is unlimited)")
	f.IntVar(&c.FrontendBurst, "burst", c.FrontendBurst, "rate limiter burst")
	f.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "graceful shutdown limit")
	return cmd
}
