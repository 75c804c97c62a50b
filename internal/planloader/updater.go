package planloader

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/oobe/engine/internal/pluginhost"
	"github.com/oobe/engine/pkg/pluginapi"
	"go.uber.org/zap"
)

// Updater listens for pluginapi.TopicNetworkConnected and attempts a
// single remote plan refresh. Grounded on the teacher's pattern of
// logging plus publishing a bus event for a recoverable subsystem
// failure rather than propagating an error nothing is waiting to
// receive: on any fetch or validation failure the store's plan is left
// untouched and PlanUpdateFailed is published with a JSON reason.
type Updater struct {
	store  *Store
	bus    pluginapi.EventBus
	logger *zap.Logger
}

// NewUpdater builds an Updater bound to store, publishing failures and
// subscribing to triggers on bus.
func NewUpdater(store *Store, bus pluginapi.EventBus, logger *zap.Logger) *Updater {
	return &Updater{store: store, bus: bus, logger: logger}
}

// Start subscribes to the network-connected trigger. The returned func
// unsubscribes.
func (u *Updater) Start() (unsubscribe func()) {
	return u.bus.Subscribe(pluginapi.TopicNetworkConnected, func(pluginapi.Event) {
		u.Refresh(context.Background())
	})
}

// Refresh performs one remote plan fetch-and-swap attempt. It is safe
// to call directly (e.g. from an admin endpoint) as well as from the
// NetworkConnected subscription.
func (u *Updater) Refresh(ctx context.Context) {
	current := u.store.Current()
	general := current.General

	kind := pluginhost.LocationKind(general.UpdateFrom)
	fetcher, err := pluginhost.FetcherFor(kind)
	if err != nil {
		u.fail(fmt.Errorf("unsupported update_from %q: %w", general.UpdateFrom, err))
		return
	}

	baseDir := path.Join(general.UpdatePathRoot, general.ProductFamily, general.ExecutionPlanVersion)
	const fileName = "execution_plan.toml"

	localPath, err := fetcher.Fetch(ctx, pluginhost.FetchSpec{
		Kind:     kind,
		BasePath: baseDir,
		Name:     fileName,
	})
	if err != nil {
		u.fail(fmt.Errorf("fetch updated plan from %s: %w", baseDir, err))
		return
	}

	candidate, err := LoadFile(localPath)
	if err != nil {
		u.fail(fmt.Errorf("validate updated plan: %w", err))
		return
	}

	u.store.Swap(candidate.Current())
	u.logger.Info("execution plan updated",
		zap.String("new_version", candidate.Current().General.ExecutionPlanVersion),
		zap.String("source", baseDir),
	)
}

func (u *Updater) fail(err error) {
	u.logger.Error("execution plan update failed, keeping current plan", zap.Error(err))
	payload, _ := json.Marshal(map[string]string{"reason": err.Error()})
	if pubErr := u.bus.Publish(pluginapi.TopicPlanUpdateFailed, payload); pubErr != nil {
		u.logger.Error("failed to publish PlanUpdateFailed", zap.Error(pubErr))
	}
}
