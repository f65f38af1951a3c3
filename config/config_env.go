package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "MINIBROKER_"

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnvConfig applies MINIBROKER_* variables to cfg, skipping fields
// whose flag was set.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("codec", env("CODEC"), &cfg.Codec)
	s.setStrings("etcd", splitList(env("ETCD_ENDPOINTS")), &cfg.EtcdEndpoints)

	s.setString("frontend", env("FRONTEND"), &cfg.FrontendAddr)
	s.setString("backend", env("BACKEND"), &cfg.BackendAddr)
	s.setString("socket", env("SOCKET"), &cfg.SocketKind)
	s.setString("admin", env("ADMIN"), &cfg.AdminAddr)
	s.setString("advertise-host", env("ADVERTISE_HOST"), &cfg.AdvertiseHost)

	s.setString("connect", env("CONNECT"), &cfg.BrokerAddr)
	s.setString("payload", env("PAYLOAD"), &cfg.Payload)
	s.setString("balancer", env("BALANCER"), &cfg.Balancer)
	s.setString("affinity", env("AFFINITY_KEY"), &cfg.AffinityKey)
	s.setString("worker-connect", env("WORKER_CONNECT"), &cfg.WorkerAddr)

	durations := []struct {
		flag string
		name string
		dst  *time.Duration
	}{
		{"heartbeat", "HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval},
		{"heartbeat-timeout", "HEARTBEAT_TIMEOUT", &cfg.HeartbeatTimeout},
		{"dial-timeout", "DIAL_TIMEOUT", &cfg.DialTimeout},
		{"etcd-dial-timeout", "ETCD_DIAL_TIMEOUT", &cfg.EtcdDialTimeout},
		{"shutdown-timeout", "SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"timeout", "REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"interval", "WORK_INTERVAL", &cfg.WorkInterval},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, env(d.name), d.dst); err != nil {
			return err
		}
	}

	ints := []struct {
		flag string
		name string
		dst  *int
	}{
		{"registry-ttl", "REGISTRY_TTL", &cfg.RegistryTTL},
		{"max-redeliveries", "MAX_REDELIVERIES", &cfg.MaxRedeliveries},
		{"burst", "BURST", &cfg.FrontendBurst},
		{"client-burst", "CLIENT_BURST", &cfg.ClientBurst},
		{"retries", "RETRIES", &cfg.Retries},
		{"pool", "POOL_SIZE", &cfg.PoolSize},
		{"max-requests", "MAX_REQUESTS", &cfg.MaxRequests},
	}
	for _, i := range ints {
		if err := s.setIntFromString(i.flag, env(i.name), i.dst); err != nil {
			return err
		}
	}

	if err := s.setFloatFromString("client-rate", env("CLIENT_RATE"), &cfg.ClientRate); err != nil {
		return err
	}
	return s.setFloatFromString("rate", env("RATE"), &cfg.FrontendRate)
}
