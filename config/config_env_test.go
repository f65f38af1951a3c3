package config

import (
	"reflect"
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		changed map[string]bool
		check   func(t *testing.T, cfg Config)
		wantErr bool
	}{
		{
			name: "applies values",
			envVars: map[string]string{
				"MINIBROKER_LOG_LEVEL":        "debug",
				"MINIBROKER_ETCD_ENDPOINTS":   "a:2379, b:2379,",
				"MINIBROKER_FRONTEND":         "tcp://*:6000",
				"MINIBROKER_MAX_REDELIVERIES": "0",
				"MINIBROKER_RATE":             "2.5",
				"MINIBROKER_WORK_INTERVAL":    "10ms",
				"MINIBROKER_WORKER_CONNECT":   "tcp://b:6001",
			},
			check: func(t *testing.T, cfg Config) {
				if cfg.LogLevel != "debug" || cfg.FrontendAddr != "tcp://*:6000" {
					t.Fatalf("strings not applied: %+v", cfg)
				}
				if !reflect.DeepEqual(cfg.EtcdEndpoints, []string{"a:2379", "b:2379"}) {
					t.Fatalf("etcd endpoints = %v", cfg.EtcdEndpoints)
				}
				if cfg.MaxRedeliveries != 0 || cfg.FrontendRate != 2.5 || cfg.WorkInterval != 10*time.Millisecond {
					t.Fatalf("numbers not applied: %+v", cfg)
				}
				if cfg.WorkerAddr != "tcp://b:6001" {
					t.Fatalf("worker address = %s", cfg.WorkerAddr)
				}
			},
		},
		{
			name: "client rate is separate from broker rate",
			envVars: map[string]string{
				"MINIBROKER_CLIENT_RATE":  "4",
				"MINIBROKER_CLIENT_BURST": "2",
			},
			check: func(t *testing.T, cfg Config) {
				if cfg.ClientRate != 4 || cfg.ClientBurst != 2 {
					t.Fatalf("client limit = %v/%d", cfg.ClientRate, cfg.ClientBurst)
				}
				if cfg.FrontendRate != 0 || cfg.FrontendBurst != 1 {
					t.Fatalf("broker limit touched: %v/%d", cfg.FrontendRate, cfg.FrontendBurst)
				}
			},
		},
		{
			name:    "respects changed flags",
			envVars: map[string]string{"MINIBROKER_PAYLOAD": "env"},
			changed: map[string]bool{"payload": true},
			check: func(t *testing.T, cfg Config) {
				if cfg.Payload != "Hello World" {
					t.Fatalf("flag overridden: %s", cfg.Payload)
				}
			},
		},
		{
			name:    "bad duration",
			envVars: map[string]string{"MINIBROKER_HEARTBEAT_INTERVAL": "often"},
			wantErr: true,
		},
		{
			name:    "bad int",
			envVars: map[string]string{"MINIBROKER_POOL_SIZE": "many"},
			wantErr: true,
		},
		{
			name:    "bad float",
			envVars: map[string]string{"MINIBROKER_RATE": "fast"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg := DefaultConfig()
			err := ApplyEnvConfig(&cfg, tt.changed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}
