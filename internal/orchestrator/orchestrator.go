// Package orchestrator sequences plugin activation against the
// execution plan's event graph: it runs the startup set at boot, lazily
// loads and activates plugins as their trigger events are observed on
// the bus, and polls async workflows at 1Hz until they complete or
// fail.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oobe/engine/internal/planloader"
	"github.com/oobe/engine/internal/pluginhost"
	"github.com/oobe/engine/internal/registry"
	"github.com/oobe/engine/pkg/pluginapi"
	"go.uber.org/zap"
)

const pollInterval = time.Second

// PluginHost is the subset of internal/pluginhost.Host the orchestrator
// needs, defined consumer-side so tests can exercise activation logic
// against a fake instead of a real artifact directory.
type PluginHost interface {
	Acquire(ctx context.Context, d pluginhost.Descriptor) (*pluginhost.Binding, error)
}

// PluginRegistrar is the subset of internal/registry.Registry the
// orchestrator needs.
type PluginRegistrar interface {
	Register(p pluginapi.Plugin) error
}

// Orchestrator wires the plan, the plugin host, the registry, and the
// bus together. Grounded on the teacher's internal/pulse.Scheduler:
// a single background goroutine driven by a ticker, started and
// stopped via context.WithCancel and sync.WaitGroup.
type Orchestrator struct {
	store    *planloader.Store
	host     PluginHost
	registry PluginRegistrar
	bus      pluginapi.EventBus
	logger   *zap.Logger

	mu        sync.Mutex
	activated map[string]bool
	workflows map[string]*asyncState
	unsubs    []func()
	handoffCh chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type asyncState struct {
	meta planloader.PluginMetadata
	wf   pluginapi.AsyncWorkflow
}

// New builds an Orchestrator. It does not start anything until Boot is
// called.
func New(store *planloader.Store, host PluginHost, reg PluginRegistrar, bus pluginapi.EventBus, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		host:      host,
		registry:  reg,
		bus:       bus,
		logger:    logger,
		activated: make(map[string]bool),
		workflows: make(map[string]*asyncState),
		handoffCh: make(chan string, 1),
	}
}

// Boot runs the startup set (every plugin whose run_after_event_name is
// empty), subscribes to every other trigger event named in the plan,
// and starts the 1Hz async-workflow poll loop.
func (o *Orchestrator) Boot(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)

	plan := o.store.Current()
	triggers := make(map[string]bool)
	handoffs := make(map[string]bool)
	for _, ev := range plan.Handoffs.HandoffEvents {
		handoffs[ev] = true
	}

	for _, pl := range plan.Plugins {
		if pl.IsStartup() {
			o.activate(o.ctx, pl)
		} else {
			triggers[pl.RunAfterEventName] = true
		}
	}

	for topic := range triggers {
		unsub := o.bus.Subscribe(topic, func(pluginapi.Event) { o.onEvent(o.ctx, topic) })
		o.unsubs = append(o.unsubs, unsub)
	}
	for topic := range handoffs {
		unsub := o.bus.Subscribe(topic, func(pluginapi.Event) { o.onHandoff(topic) })
		o.unsubs = append(o.unsubs, unsub)
	}

	o.wg.Add(1)
	go o.pollLoop()
}

// Shutdown stops the poll loop and every event subscription.
func (o *Orchestrator) Shutdown() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	for _, unsub := range o.unsubs {
		unsub()
	}
}

// ActiveWorkflowCount reports how many async workflows are currently
// being polled. Exported for internal/diag's gauge.
func (o *Orchestrator) ActiveWorkflowCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.workflows)
}

// Handoff returns a channel that receives the name of the first
// handoff event observed, signaling the plan is finished and the host
// application should take control. It is closed-over rather than
// closed so a caller reading it twice sees the same value once, not a
// zero value forever.
func (o *Orchestrator) Handoff() <-chan string { return o.handoffCh }

func (o *Orchestrator) onHandoff(event string) {
	o.logger.Info("execution plan handoff reached, host should take control", zap.String("event", event))
	select {
	case o.handoffCh <- event:
	default:
	}
}

// onEvent looks up the current plan for every entry whose
// run_after_event_name matches topic and activates the ones not yet
// activated. Re-reading o.store.Current() on every firing means a plan
// update's newly added entries for an already-subscribed event name
// are picked up without a new subscription.
func (o *Orchestrator) onEvent(ctx context.Context, topic string) {
	plan := o.store.Current()
	for _, pl := range plan.Plugins {
		if pl.RunAfterEventName == topic {
			o.activate(ctx, pl)
		}
	}
}

// activate loads (if necessary) and runs one plugin exactly once.
func (o *Orchestrator) activate(ctx context.Context, pl planloader.PluginMetadata) {
	o.mu.Lock()
	if o.activated[pl.Name] {
		o.mu.Unlock()
		return
	}
	o.activated[pl.Name] = true
	o.mu.Unlock()

	binding, err := o.host.Acquire(ctx, pl.Descriptor())
	if err != nil {
		o.reportLoadFailure(pl.Name, err)
		return
	}

	if err := binding.Plugin.Run(ctx, pluginapi.PluginContext{}); err != nil {
		o.reportLoadFailure(pl.Name, err)
		return
	}

	if err := o.registry.Register(binding.Plugin); err != nil && !errors.Is(err, registry.ErrDuplicateIdentifier) {
		o.logger.Warn("plugin registration failed", zap.String("name", pl.Name), zap.Error(err))
	}

	o.logger.Info("plugin activated",
		zap.String("name", pl.Name),
		zap.String("trigger", pl.RunAfterEventName),
	)

	if pl.VisibleInUI {
		payload, _ := json.Marshal(map[string]string{"route": "/" + pl.PluginRoute + "/web"})
		if err := o.bus.Publish(pluginapi.TopicSwitchRoute, payload); err != nil {
			o.logger.Error("failed to publish SwitchRoute", zap.Error(err))
		}
	}

	if pl.RunAsync {
		o.startWorkflow(ctx, pl, binding.Plugin)
	}
}

// startWorkflow invokes RunWorkflow once and registers the plugin for
// 1Hz polling. A plugin declared run_async that doesn't implement
// AsyncWorkflow is a load failure: the plan and the artifact disagree.
func (o *Orchestrator) startWorkflow(ctx context.Context, pl planloader.PluginMetadata, p pluginapi.Plugin) {
	wf, ok := p.(pluginapi.AsyncWorkflow)
	if !ok {
		o.reportLoadFailure(pl.Name, fmt.Errorf("plan marks %q run_async but its artifact does not implement AsyncWorkflow", pl.Name))
		return
	}

	// RunWorkflow is a plugin ABI boundary call. Event-triggered
	// activations run inside the bus's panic-recovering delivery, so the
	// boundary recover is deferred here, as invokeHandleRequest does on
	// the HTTP path, to keep a plugin panic fatal on every path.
	resp, err := func() (*pluginapi.ApiResponse, error) {
		defer pluginapi.RecoverBoundaryPanic(func(rec any) {
			o.logger.Error("plugin boundary panic in RunWorkflow, terminating process",
				zap.Any("panic", rec), zap.String("plugin", pl.Name))
		})
		return wf.RunWorkflow(ctx, &pluginapi.ApiRequest{})
	}()
	if resp != nil {
		p.Cleanup(resp)
	}
	if err != nil {
		o.reportWorkflowFailure(pl, []byte(err.Error()))
		return
	}

	o.mu.Lock()
	o.workflows[pl.Name] = &asyncState{meta: pl, wf: wf}
	o.mu.Unlock()
}

func (o *Orchestrator) reportLoadFailure(name string, err error) {
	o.logger.Error("plugin failed to load or run, skipping", zap.String("name", name), zap.Error(err))
	payload, _ := json.Marshal(map[string]string{"name": name, "reason": err.Error()})
	if pubErr := o.bus.Publish(pluginapi.TopicPluginLoadFailed, payload); pubErr != nil {
		o.logger.Error("failed to publish PluginLoadFailed", zap.Error(pubErr))
	}
}

func (o *Orchestrator) reportWorkflowFailure(pl planloader.PluginMetadata, payload []byte) {
	o.logger.Error("async workflow failed", zap.String("name", pl.Name))
	o.mu.Lock()
	delete(o.workflows, pl.Name)
	o.mu.Unlock()
	if err := o.bus.Publish(pluginapi.FailedTopic(pl.Name), payload); err != nil {
		o.logger.Error("failed to publish workflow failure event", zap.Error(err))
	}
}

func (o *Orchestrator) reportWorkflowComplete(pl planloader.PluginMetadata) {
	o.mu.Lock()
	delete(o.workflows, pl.Name)
	o.mu.Unlock()
	if pl.CompletedEventName == "" {
		return
	}
	if err := o.bus.Publish(pl.CompletedEventName, nil); err != nil {
		o.logger.Error("failed to publish completed event", zap.String("event", pl.CompletedEventName), zap.Error(err))
	}
}

// pollLoop drives OnProgress/OnComplete for every active async
// workflow once a second until Shutdown cancels the context.
func (o *Orchestrator) pollLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.pollOnce()
		}
	}
}

func (o *Orchestrator) pollOnce() {
	o.mu.Lock()
	active := make([]*asyncState, 0, len(o.workflows))
	for _, s := range o.workflows {
		active = append(active, s)
	}
	o.mu.Unlock()

	for _, s := range active {
		o.pollOne(s)
	}
}

// pollOne calls OnProgress/OnComplete without a recover: both are
// plugin ABI boundary calls, and a panic inside either is fatal per
// spec, so it is left to crash the process rather than be caught here.
func (o *Orchestrator) pollOne(s *asyncState) {
	plugin, ok := s.wf.(pluginapi.Plugin)

	if resp, err := s.wf.OnProgress(o.ctx); err != nil {
		if resp != nil && ok {
			defer plugin.Cleanup(resp)
		}
		o.logger.Warn("OnProgress error", zap.String("name", s.meta.Name), zap.Error(err))
	} else if resp != nil {
		if ok {
			defer plugin.Cleanup(resp)
		}
		if len(resp.Body) > 0 {
			if err := o.bus.Publish(pluginapi.TopicStatusMessageChanged, resp.Body); err != nil {
				o.logger.Error("failed to publish StatusMessageChanged", zap.Error(err))
			}
		}
	}

	resp, err := s.wf.OnComplete(o.ctx)
	if resp != nil && ok {
		defer plugin.Cleanup(resp)
	}
	if err != nil {
		o.reportWorkflowFailure(s.meta, []byte(err.Error()))
		return
	}
	if resp == nil {
		return
	}

	switch resp.Status {
	case 200:
		o.reportWorkflowComplete(s.meta)
	case 204:
		// still running, poll again next tick
	default:
		o.reportWorkflowFailure(s.meta, resp.Body)
	}
}
