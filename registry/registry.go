// Package registry keeps track of which addresses serve which service.
//
// Servers register themselves when they start listening and deregister on shutdown; clients
// discover the current instances and may watch for changes. Two implementations are provided:
// EtcdRegistry for real deployments and MemoryRegistry for a single process.
package registry

import (
	"context"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("registry")

// KeyPrefix roots every key written to etcd: KeyPrefix + service + "/" + addr.
const KeyPrefix = "/duplex-rpc/"

type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // for weighted balancing, <= 0 counts as 1
	Version string `json:"version,omitempty"`
}

type Registry interface {
	// Register announces instance under serviceName. The entry disappears ttl seconds after the
	// process stops renewing it, where the implementation supports expiry.
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change; a slow reader only sees the latest
	// list. The channel is closed when ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}

func servicePrefix(serviceName string) string {
	return KeyPrefix + serviceName + "/"
}

func instanceKey(serviceName, addr string) string {
	return servicePrefix(serviceName) + addr
}

// publish replaces whatever list is still waiting in ch with list.
func publish(ch chan []ServiceInstance, list []ServiceInstance) {
	for {
		select {
		case ch <- list:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
