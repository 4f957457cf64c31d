// Package registry resolves the binder endpoint through etcd, so that the port
// and token need not be passed on the command line.
//
//	Key:   /alexa-viewer/bindings/{name}
//	Value: JSON-encoded Endpoint
//
// Registrations are attached to a TTL lease that is kept alive in the
// background; if the publisher dies the entry expires with the lease.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// KeyPrefix is the etcd prefix under which endpoints are stored.
const KeyPrefix = "/alexa-viewer/bindings/"

const dialTimeout = 5 * time.Second

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client

	// Lease renewal outlives the context given to Register; it stops on
	// Deregister or Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	leases map[string]registration // name → our own registration
}

type registration struct {
	lease clientv3.LeaseID
	stop  context.CancelFunc
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client: c,
		ctx:    ctx,
		cancel: cancel,
		leases: make(map[string]registration),
	}, nil
}

// Key returns the etcd key for name.
func Key(name string) string {
	return KeyPrefix + name
}

// Register publishes ep under name with a lease of ttl, renewed until
// Deregister or Close. ctx bounds only the registration itself.
func (r *EtcdRegistry) Register(ctx context.Context, name string, ep Endpoint, ttl time.Duration) error {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	lease, err := r.client.Grant(ctx, seconds)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}
	if _, err := r.client.Put(ctx, Key(name), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", name, err)
	}

	keepCtx, stop := context.WithCancel(r.ctx)
	ch, err := r.client.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		stop()
		return fmt.Errorf("registry: keep alive %s: %w", name, err)
	}
	// Drain the responses so the channel never fills.
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	if prev, ok := r.leases[name]; ok {
		prev.stop()
	}
	r.leases[name] = registration{lease: lease.ID, stop: stop}
	r.mu.Unlock()
	return nil
}

// Deregister removes name and revokes the lease of our registration, if any.
func (r *EtcdRegistry) Deregister(ctx context.Context, name string) error {
	r.mu.Lock()
	reg, ok := r.leases[name]
	delete(r.leases, name)
	r.mu.Unlock()
	if ok {
		reg.stop()
	}

	if _, err := r.client.Delete(ctx, Key(name)); err != nil {
		return fmt.Errorf("registry: delete %s: %w", name, err)
	}
	if ok {
		if _, err := r.client.Revoke(ctx, reg.lease); err != nil {
			return fmt.Errorf("registry: revoke %s: %w", name, err)
		}
	}
	return nil
}

// Lookup returns the endpoint registered under name.
func (r *EtcdRegistry) Lookup(ctx context.Context, name string) (Endpoint, error) {
	resp, err := r.client.Get(ctx, Key(name))
	if err != nil {
		return Endpoint{}, fmt.Errorf("registry: get %s: %w", name, err)
	}
	if len(resp.Kvs) == 0 {
		return Endpoint{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	var ep Endpoint
	if err := json.Unmarshal(resp.Kvs[0].Value, &ep); err != nil {
		return Endpoint{}, fmt.Errorf("registry: decode %s: %w", name, err)
	}
	return ep, nil
}

// Close releases the etcd connection. Leases of live registrations stop being
// renewed and expire on their own.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
