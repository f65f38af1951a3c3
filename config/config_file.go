package config

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	LogLevel          string   `toml:"log_level"`
	Codec             string   `toml:"codec"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	HeartbeatTimeout  string   `toml:"heartbeat_timeout"`
	DialTimeout       string   `toml:"dial_timeout"`
	EtcdEndpoints     []string `toml:"etcd_endpoints"`
	EtcdDialTimeout   string   `toml:"etcd_dial_timeout"`
	RegistryTTL       int      `toml:"registry_ttl"`

	Broker struct {
		FrontendAddr    string  `toml:"frontend"`
		BackendAddr     string  `toml:"backend"`
		SocketKind      string  `toml:"socket"`
		AdminAddr       string  `toml:"admin"`
		AdvertiseHost   string  `toml:"advertise_host"`
		MaxRedeliveries *int    `toml:"max_redeliveries"`
		FrontendRate    float64 `toml:"rate"`
		FrontendBurst   int     `toml:"burst"`
		ShutdownTimeout string  `toml:"shutdown_timeout"`
	} `toml:"broker"`

	Client struct {
		BrokerAddr     string  `toml:"connect"`
		Payload        string  `toml:"payload"`
		RequestTimeout string  `toml:"timeout"`
		Retries        *int    `toml:"retries"`
		PoolSize       int     `toml:"pool_size"`
		Balancer       string  `toml:"balancer"`
		AffinityKey    string  `toml:"affinity_key"`
		Rate           float64 `toml:"rate"`
		Burst          int     `toml:"burst"`
	} `toml:"client"`

	Worker struct {
		WorkerAddr   string `toml:"connect"`
		WorkInterval string `toml:"interval"`
		MaxRequests  *int   `toml:"max_requests"`
	} `toml:"worker"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.minibroker/config.toml, or "" without a home directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".minibroker", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies fc to cfg, skipping fields whose flag was set.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("codec", fc.Codec, &cfg.Codec)
	s.setStrings("etcd", fc.EtcdEndpoints, &cfg.EtcdEndpoints)
	s.setInt("registry-ttl", fc.RegistryTTL, &cfg.RegistryTTL)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"heartbeat", fc.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"heartbeat-timeout", fc.HeartbeatTimeout, &cfg.HeartbeatTimeout},
		{"dial-timeout", fc.DialTimeout, &cfg.DialTimeout},
		{"etcd-dial-timeout", fc.EtcdDialTimeout, &cfg.EtcdDialTimeout},
		{"shutdown-timeout", fc.Broker.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"timeout", fc.Client.RequestTimeout, &cfg.RequestTimeout},
		{"interval", fc.Worker.WorkInterval, &cfg.WorkInterval},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	s.setString("frontend", fc.Broker.FrontendAddr, &cfg.FrontendAddr)
	s.setString("backend", fc.Broker.BackendAddr, &cfg.BackendAddr)
	s.setString("socket", fc.Broker.SocketKind, &cfg.SocketKind)
	s.setString("admin", fc.Broker.AdminAddr, &cfg.AdminAddr)
	s.setString("advertise-host", fc.Broker.AdvertiseHost, &cfg.AdvertiseHost)
	s.setIntPtr("max-redeliveries", fc.Broker.MaxRedeliveries, &cfg.MaxRedeliveries)
	s.setFloat("rate", fc.Broker.FrontendRate, &cfg.FrontendRate)
	s.setInt("burst", fc.Broker.FrontendBurst, &cfg.FrontendBurst)

	s.setString("connect", fc.Client.BrokerAddr, &cfg.BrokerAddr)
	s.setString("payload", fc.Client.Payload, &cfg.Payload)
	s.setIntPtr("retries", fc.Client.Retries, &cfg.Retries)
	s.setInt("pool", fc.Client.PoolSize, &cfg.PoolSize)
	s.setString("balancer", fc.Client.Balancer, &cfg.Balancer)
	s.setString("affinity", fc.Client.AffinityKey, &cfg.AffinityKey)
	s.setFloat("client-rate", fc.Client.Rate, &cfg.ClientRate)
	s.setInt("client-burst", fc.Client.Burst, &cfg.ClientBurst)

	s.setString("worker-connect", fc.Worker.WorkerAddr, &cfg.WorkerAddr)
	s.setIntPtr("max-requests", fc.Worker.MaxRequests, &cfg.MaxRequests)
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
