package diag

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus gauges for state internal/httpgw's request metrics don't
// cover: the size of the plugin registry, how many async workflows the
// orchestrator is currently polling, and how many subscribers (local or
// remote) currently hold a bus subscription.
var (
	registrySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oobe_registry_plugins",
		Help: "Number of plugins currently held by the registry.",
	})
	activeWorkflows = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oobe_orchestrator_active_workflows",
		Help: "Number of async workflows the orchestrator is currently polling.",
	})
	busSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oobe_bus_subscribers",
		Help: "Number of active bus subscriptions across all topics.",
	})

	// BusDroppedMessages satisfies internal/bus.DropCounter (it only
	// needs an Inc() method); cmd/engine passes it to bus.New so a full
	// subscriber buffer shows up here instead of being silently dropped.
	BusDroppedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oobe_bus_dropped_messages_total",
		Help: "Events dropped because a subscriber's buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(registrySize)
	prometheus.MustRegister(activeWorkflows)
	prometheus.MustRegister(busSubscribers)
	prometheus.MustRegister(BusDroppedMessages)
}

// WorkflowCounter is the subset of internal/orchestrator.Orchestrator
// the metrics poller needs.
type WorkflowCounter interface {
	ActiveWorkflowCount() int
}

// SubscriberCounter is the subset of internal/bus.Hub the metrics
// poller needs.
type SubscriberCounter interface {
	TotalSubscribers() int
}

// MetricsPoller periodically samples the registry, orchestrator, and
// bus and publishes their sizes as Prometheus gauges. Nothing else in
// the engine depends on its output, so a missed tick is harmless.
type MetricsPoller struct {
	registrySize func() int
	workflows    WorkflowCounter
	subscribers  SubscriberCounter
	interval     time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMetricsPoller builds a poller. registrySize reports the current
// plugin count; it is a func rather than a Registry interface so
// callers can pass len(reg.All()) without this package importing
// internal/registry.
func NewMetricsPoller(registrySize func() int, workflows WorkflowCounter, subscribers SubscriberCounter, interval time.Duration) *MetricsPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MetricsPoller{
		registrySize: registrySize,
		workflows:    workflows,
		subscribers:  subscribers,
		interval:     interval,
	}
}

// Start begins sampling on a ticker until Stop is called.
func (p *MetricsPoller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.sample()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.sample()
			}
		}
	}()
}

// Stop halts sampling and waits for the poller goroutine to exit.
func (p *MetricsPoller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *MetricsPoller) sample() {
	if p.registrySize != nil {
		registrySize.Set(float64(p.registrySize()))
	}
	if p.workflows != nil {
		activeWorkflows.Set(float64(p.workflows.ActiveWorkflowCount()))
	}
	if p.subscribers != nil {
		busSubscribers.Set(float64(p.subscribers.TotalSubscribers()))
	}
}
