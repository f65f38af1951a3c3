package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mini-broker/client"
	"mini-broker/loadbalance"
	"mini-broker/log"
	"mini-broker/message"
	"mini-broker/middleware"
	"mini-broker/registry"
	"mini-broker/transport"
)

// clientAliases keeps the client's rate flags apart from the broker's
// admission limit, which uses the same flag names.
var clientAliases = map[string]string{"rate": "client-rate", "burst": "client-burst"}

func newClientCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send one request to the broker and print the reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := g.load(cmd, clientAliases); err != nil {
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
			if reg == nil {
				reg = registry.NewStaticRegistryWith(registry.ServiceFrontend, transport.StripScheme(cfg.BrokerAddr))
			}
			defer reg.Close()

			bal, err := loadbalance.New(cfg.Balancer)
			if err != nil {
				return err
			}

			c := client.NewClient(reg, bal, client.Options{
				Transport: topts,
				PoolSize:  cfg.PoolSize,
				Rate:      cfg.ClientRate,
				Burst:     cfg.ClientBurst,
				Middlewares: []middleware.Middleware{
					middleware.LoggingMiddleware(logger),
					middleware.RetryMiddleware(cfg.Retries, 200*time.Millisecond, logger),
					middleware.TimeoutMiddleware(cfg.RequestTimeout),
				},
			}, logger)
			defer c.Close()

			ctx, stop := signalContext()
			defer stop()

			reply, err := c.Do(ctx, &message.Request{
				Payload:     []byte(cfg.Payload),
				AffinityKey: cfg.AffinityKey,
			})
			if err != nil {
				logger.Error("request failed", log.Err(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Result:%s\n", reply)
			return nil
		},
	}

	f := cmd.Flags()
	c := &g.cfg
	f.StringVar(&c.BrokerAddr, "connect", c.BrokerAddr, "broker frontend address (ignored with --etcd)")
	f.StringVar(&c.Payload, "payload", c.Payload, "request body")
	f.DurationVar(&c.RequestTimeout, "timeout", c.RequestTimeout, "timeout of each request attempt")
	f.IntVar(&c.Retries, "retries", c.Retries, "retries on timeouts and broken connections")
	f.IntVar(&c.PoolSize, "pool", c.PoolSize, "REQ sockets per broker endpoint")
	f.StringVar(&c.Balancer, "balancer", c.Balancer, "endpoint selection: roundrobin, weighted, consistenthash")
	f.StringVar(&c.AffinityKey, "affinity", c.AffinityKey, "consistent hash key")
	f.Float64Var(&c.ClientRate, "rate", c.ClientRate, "requests per second (0 is unlimited)")
	f.IntVar(&c.ClientBurst, "burst", c.ClientBurst, "rate limiter burst")
	return cmd
}
