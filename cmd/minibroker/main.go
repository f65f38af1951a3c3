package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mini-broker/codec"
	"mini-broker/config"
	"mini-broker/log"
	"mini-broker/registry"
	"mini-broker/transport"
)

var longHelp = strings.TrimSpace(`
A load-balancing request broker.

Clients connect to the frontend (default port 5672) and send one request at
a time. Workers connect to the backend (default port 5673), announce READY
and receive requests least recently ready first.

Configuration: ~/.minibroker/config.toml, .env, MINIBROKER_* variables and
flags, in increasing order of precedence.
`)

var exampleUsage = strings.TrimSpace(`
  minibroker broker --admin :8086
  minibroker worker --connect tcp://127.0.0.1:5673
  minibroker client --connect tcp://127.0.0.1:5672 --payload "Hello World"
  minibroker status --admin 127.0.0.1:8086
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// globals are the flags shared by every subcommand.
type globals struct {
	cfg     config.Config
	cfgPath string
	envFile string
}

func main() {
	g := &globals{cfg: config.DefaultConfig()}

	root := &cobra.Command{
		Use:           "minibroker",
		Short:         "Load-balancing request broker with REQ clients and workers",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.cfgPath, "config", "", "config file (default $HOME/.minibroker/config.toml)")
	pf.StringVar(&g.envFile, "env-file", ".env", "dotenv file with MINIBROKER_* variables")
	pf.StringVar(&g.cfg.LogLevel, "log-level", g.cfg.LogLevel, "log level: debug, info, warn, error")
	pf.StringVar(&g.cfg.Codec, "codec", g.cfg.Codec, "frame codec: binary or json")
	pf.DurationVar(&g.cfg.HeartbeatInterval, "heartbeat", g.cfg.HeartbeatInterval, "heartbeat interval (0 disables)")
	pf.DurationVar(&g.cfg.HeartbeatTimeout, "heartbeat-timeout", g.cfg.HeartbeatTimeout, "drop peers silent for this long (0 disables)")
	pf.DurationVar(&g.cfg.DialTimeout, "dial-timeout", g.cfg.DialTimeout, "connect timeout")
	pf.StringSliceVar(&g.cfg.EtcdEndpoints, "etcd", nil, "etcd endpoints for endpoint discovery (empty uses static addresses)")
	pf.DurationVar(&g.cfg.EtcdDialTimeout, "etcd-dial-timeout", g.cfg.EtcdDialTimeout, "etcd connect timeout")
	pf.IntVar(&g.cfg.RegistryTTL, "registry-ttl", g.cfg.RegistryTTL, "registration lease TTL in seconds")

	root.AddCommand(
		newBrokerCmd(g),
		newWorkerCmd(g),
		newClientCmd(g),
		newStatusCmd(g),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// load applies file, .env and environment beneath the flags set on cmd.
// aliases maps a flag name of cmd to the key config uses for it.
func (g *globals) load(cmd *cobra.Command, aliases map[string]string) (map[string]bool, error) {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if alias, ok := aliases[f.Name]; ok {
			changed[alias] = true
			return
		}
		changed[f.Name] = true
	})

	path := g.path()
	if err := config.Load(&g.cfg, path, g.envFile, changed); err != nil {
		return nil, err
	}
	return changed, nil
}

func (g *globals) path() string {
	if g.cfgPath != "" {
		return g.cfgPath
	}
	return config.DefaultConfigPath()
}

// newLogger builds the console logger. The logger itself passes every
// level; the global level filters so it can be changed at runtime.
func newLogger(level string) (log.Logger, error) {
	logger, err := log.New("trace")
	if err != nil {
		return nil, err
	}
	if err := log.SetGlobalLevel(level); err != nil {
		return nil, err
	}
	return logger, nil
}

func transportOptions(cfg config.Config) (transport.Options, error) {
	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return transport.Options{}, err
	}
	return transport.Options{
		Codec:             ct,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReadTimeout:       cfg.HeartbeatTimeout,
		DialTimeout:       cfg.DialTimeout,
	}, nil
}

// newRegistry returns the etcd registry when endpoints are configured and
// nil otherwise, in which case callers fall back to static addresses.
func newRegistry(cfg config.Config) (registry.Registry, error) {
	if len(cfg.EtcdEndpoints) == 0 {
		return nil, nil
	}
	zl, err := registry.NewZapLogger("warn")
	if err != nil {
		return nil, err
	}
	return registry.NewEtcdRegistry(cfg.EtcdEndpoints, cfg.EtcdDialTimeout, zl)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
