package registry

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	pkgerrors "github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultOpTimeout bounds every single etcd request.
const DefaultOpTimeout = 5 * time.Second

// EtcdRegistry implements Registry on etcd v3.
//
//	Key:   /duplex-rpc/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration is bound to a TTL lease kept alive in the background: if the server dies, the lease
// expires and the entry goes away on its own.
type EtcdRegistry struct {
	client *clientv3.Client

	mu     sync.Mutex
	leases map[string]registration // keyed by etcd key

	ctx    context.Context
	cancel context.CancelFunc
}

type registration struct {
	lease  clientv3.LeaseID
	cancel context.CancelFunc // stops the keepalive
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: DefaultOpTimeout,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "registry: connect etcd")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{client: c, leases: make(map[string]registration), ctx: ctx, cancel: cancel}, nil
}

// Register grants a lease of ttl seconds, puts the instance under it and keeps it alive until
// Deregister or Close. Registering the same address again replaces the previous lease.
func (r *EtcdRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	ctx, cancel := context.WithTimeout(r.ctx, DefaultOpTimeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return pkgerrors.Wrap(err, "registry: grant lease")
	}
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	key := instanceKey(serviceName, instance.Addr)
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return pkgerrors.Wrapf(err, "registry: put %s", key)
	}

	// The keepalive outlives this call, so it gets its own context.
	kaCtx, kaCancel := context.WithCancel(r.ctx)
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		kaCancel()
		return pkgerrors.Wrap(err, "registry: keepalive")
	}
	go func() {
		for range ch {
		}
		log.Debugf("keepalive for %s stopped", key)
	}()

	r.mu.Lock()
	old, had := r.leases[key]
	r.leases[key] = registration{lease: lease.ID, cancel: kaCancel}
	r.mu.Unlock()
	if had {
		old.cancel()
		_, _ = r.client.Revoke(ctx, old.lease)
	}
	log.Infof("registered %s (ttl %ds)", key, ttl)
	return nil
}

// Deregister removes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(serviceName string, addr string) error {
	ctx, cancel := context.WithTimeout(r.ctx, DefaultOpTimeout)
	defer cancel()

	key := instanceKey(serviceName, addr)
	r.mu.Lock()
	reg, had := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if had {
		reg.cancel()
		if _, err := r.client.Revoke(ctx, reg.lease); err == nil {
			return nil
		}
	}
	if _, err := r.client.Delete(ctx, key); err != nil {
		return pkgerrors.Wrapf(err, "registry: delete %s", key)
	}
	return nil
}

// Discover returns every instance currently registered under serviceName.
func (r *EtcdRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	ctx, cancel := context.WithTimeout(r.ctx, DefaultOpTimeout)
	defer cancel()

	resp, err := r.client.Get(ctx, servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "registry: discover %s", serviceName)
	}
	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			log.Warningf("skipping malformed entry %s: %v", kv.Key, err)
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-reads the service on every change under its prefix (registrations, deregistrations,
// lease expirations) and emits the full list.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-r.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	go func() {
		defer close(ch)
		defer cancel()
		watchChan := r.client.Watch(clientv3.WithRequireLeader(ctx), servicePrefix(serviceName), clientv3.WithPrefix())
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				log.Warningf("watch %s: %v", serviceName, err)
				continue
			}
			instances, err := r.Discover(serviceName)
			if err != nil {
				log.Warningf("watch %s: %v", serviceName, err)
				continue
			}
			publish(ch, instances)
		}
	}()
	return ch
}

// Close stops all keepalives and watches and closes the etcd client. Leases left behind expire
// after their TTL.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
