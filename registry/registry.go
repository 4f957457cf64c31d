package registry

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Lookup when no endpoint is registered under a name.
var ErrNotFound = errors.New("registry: binding not found")

// Endpoint is where a binder session can be opened.
type Endpoint struct {
	Port  int    `json:"port"`
	Token string `json:"token"`
}

// Registry publishes and resolves binder endpoints by name.
type Registry interface {
	Register(ctx context.Context, name string, ep Endpoint, ttl time.Duration) error
	Deregister(ctx context.Context, name string) error
	Lookup(ctx context.Context, name string) (Endpoint, error)
	Close() error
}
