package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"mini-broker/log"
	"mini-broker/worker"
)

// workerAliases: "connect" means the backend here and the frontend for the
// client.
var workerAliases = map[string]string{"connect": "worker-connect"}

func newWorkerCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve requests from the broker backend until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := g.load(cmd, workerAliases); err != nil {
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

			wcfg := worker.DefaultConfig()
			wcfg.BackendAddr = cfg.WorkerAddr
			wcfg.Registry = reg
			wcfg.Transport = topts
			wcfg.Interval = cfg.WorkInterval
			wcfg.MaxRequests = cfg.MaxRequests
			wcfg.Out = os.Stdout
			w := worker.New(wcfg, worker.CounterHandler(), logger)

			ctx, stop := signalContext()
			defer stop()

			err = w.Run(ctx)
			logger.Info("worker stopped", log.Int("served", w.Served()))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	f := cmd.Flags()
	c := &g.cfg
	f.StringVar(&c.WorkerAddr, "connect", c.WorkerAddr, "broker backend address (ignored with --etcd)")
	f.DurationVar(&c.WorkInterval, "interval", c.WorkInterval, "pause after every reply")
	f.IntVar(&c.MaxRequests, "max-requests", c.MaxRequests, "exit after this many replies (0 runs forever)")
	return cmd
}
