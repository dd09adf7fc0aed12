package loadbalance

import (
	"math/rand"

	"duplex-rpc/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional to its weight.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	total := 0
	for _, inst := range instances {
		total += weight(inst)
	}

	r := rand.Intn(total)
	for i := range instances {
		r -= weight(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
