package metrics

import (
	"context"
	"time"

	"github.com/burrowdev/burrow/pkg/provider"
)

// Collector polls every registered provider's health predicate on a fixed
// interval and feeds the health checker and the provider gauges.
type Collector struct {
	registry *provider.Registry
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a health collector over the registry.
func NewCollector(reg *provider.Registry) *Collector {
	return &Collector{
		registry: reg,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	running := 0
	for _, p := range c.registry.Providers() {
		if err := p.Healthy(ctx); err != nil {
			UpdateComponent(p.Service(), false, err.Error())
			continue
		}
		running++
		UpdateComponent(p.Service(), true, "running")
	}
	ProvidersRunning.Set(float64(running))
}
