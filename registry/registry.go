// Package registry publishes and discovers broker endpoints.
//
// The broker registers its frontend and backend addresses; clients discover
// frontends and workers discover backends. Two implementations exist: etcd
// for real deployments and Static for fixed addresses from configuration.
package registry

import (
	"context"
	"errors"
)

// Well-known service names.
const (
	ServiceFrontend = "frontend"
	ServiceBackend  = "backend"
)

// ErrNoInstances is returned when a service has no registered endpoint.
var ErrNoInstances = errors.New("registry: no instances")

type ServiceInstance struct {
	Addr    string
	Weight  int // Weight for load balancing
	Version string
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}
