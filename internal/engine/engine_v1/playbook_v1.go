package engine

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-playbook/internal/engine"
	"github.com/rxtech-lab/argo-playbook/internal/expr"
	"github.com/rxtech-lab/argo-playbook/internal/journal"
	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"go.uber.org/zap"
)

// PlaybookEngineV1 advances playbook instances on bar-close events. It keys
// instances by (playbook_id, symbol); instances never share mutable state,
// so cycles for different instances may run concurrently while cycles for
// the same instance are serialized by the instance mutex.
type PlaybookEngineV1 struct {
	collaborators engine.Collaborators
	interp        *expr.Interpreter

	mu        sync.RWMutex
	instances map[types.InstanceKey]*instance
}

var _ engine.Engine = (*PlaybookEngineV1)(nil)

// NewPlaybookEngineV1 creates an engine wired to the given collaborators.
func NewPlaybookEngineV1(collaborators engine.Collaborators) (engine.Engine, error) {
	switch {
	case collaborators.Data == nil:
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "data provider is required")
	case collaborators.Executor == nil:
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "executor is required")
	case collaborators.Store == nil:
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "snapshot store is required")
	case collaborators.Journal == nil:
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "journal is required")
	case collaborators.Logger == nil:
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "logger is required")
	}

	return &PlaybookEngineV1{
		collaborators: collaborators,
		interp:        expr.NewInterpreter(),
		instances:     make(map[types.InstanceKey]*instance),
	}, nil
}

// Activate implements the engine.Engine interface.
func (e *PlaybookEngineV1) Activate(ctx context.Context, config *playbook.Config, symbol string) error {
	if config == nil {
		return errors.New(errors.ErrCodeInvalidConfiguration, "playbook config is nil")
	}

	if symbol == "" {
		return errors.New(errors.ErrCodeInvalidConfiguration, "symbol is required")
	}

	if err := config.Validate(); err != nil {
		return err
	}

	inst := newInstance(config, symbol)

	stored, err := e.collaborators.Store.Load(ctx, config.ID, symbol)
	switch {
	case err == nil:
		if _, ok := config.Phase(stored.Phase); ok {
			inst.restore(stored)
			e.collaborators.Logger.Info("Resumed playbook instance from stored snapshot",
				zap.String("instance", inst.key().String()),
				zap.String("phase", inst.phase),
			)
		} else {
			e.collaborators.Logger.Warn("Stored snapshot names an undeclared phase, starting fresh",
				zap.String("instance", inst.key().String()),
				zap.String("phase", stored.Phase),
			)
		}
	case !errors.HasCode(err, errors.ErrCodeSnapshotNotFound):
		e.collaborators.Logger.Warn("Failed to load stored snapshot, starting fresh",
			zap.String("instance", inst.key().String()),
			zap.Error(err),
		)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.instances[inst.key()]; exists {
		return errors.Newf(errors.ErrCodeInstanceAlreadyActive, "instance %s is already active", inst.key())
	}

	e.instances[inst.key()] = inst

	e.collaborators.Logger.Info("Activated playbook instance",
		zap.String("instance", inst.key().String()),
		zap.String("phase", inst.phase),
	)

	return nil
}

// Deactivate implements the engine.Engine interface.
func (e *PlaybookEngineV1) Deactivate(ctx context.Context, playbookID string, symbol string) error {
	key := types.InstanceKey{PlaybookID: playbookID, Symbol: symbol}

	e.mu.Lock()
	inst, ok := e.instances[key]
	if ok {
		delete(e.instances, key)
	}
	e.mu.Unlock()

	if !ok {
		return errors.Newf(errors.ErrCodeInstanceNotFound, "no active instance %s", key)
	}

	// Wait out a cycle that may still be running for the instance.
	inst.mu.Lock()
	inst.mu.Unlock()

	if err := e.collaborators.Store.Delete(ctx, playbookID, symbol); err != nil {
		return errors.Wrapf(errors.ErrCodeSnapshotWrite, err, "failed to delete snapshot for %s", key)
	}

	e.collaborators.Logger.Info("Deactivated playbook instance", zap.String("instance", key.String()))

	return nil
}

// NotifyTradeOpened implements the engine.Engine interface.
func (e *PlaybookEngineV1) NotifyTradeOpened(ctx context.Context, playbookID string, symbol string, fill types.Fill) error {
	inst, err := e.instance(playbookID, symbol)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	inst.openPending = false
	inst.ticket = fill.Ticket
	inst.direction = fill.Direction
	inst.openPrice = fill.OpenPrice
	inst.lot = fill.Lot
	inst.sl = fill.StopLoss
	inst.tp = fill.TakeProfit
	inst.lastEventTime = fill.Time

	inst.vars[varRemainingLot] = fill.Lot
	if fill.StopLoss != 0 {
		inst.vars[varInitialRisk] = math.Abs(fill.OpenPrice - fill.StopLoss)
	}

	e.collaborators.Logger.Info("Trade opened",
		zap.String("instance", inst.key().String()),
		zap.String("ticket", fill.Ticket),
		zap.String("direction", string(fill.Direction)),
		zap.Float64("open_price", fill.OpenPrice),
		zap.Float64("lot", fill.Lot),
	)

	e.emitSnapshot(ctx, inst, fill.Time)

	return nil
}

// NotifyTradeClosed implements the engine.Engine interface.
func (e *PlaybookEngineV1) NotifyTradeClosed(ctx context.Context, playbookID string, symbol string) error {
	inst, err := e.instance(playbookID, symbol)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.ticket == "" && !inst.openPending {
		return errors.Newf(errors.ErrCodeNoOpenPosition, "instance %s has no open position", inst.key())
	}

	ticket := inst.ticket
	inst.clearPosition()
	// Fired-once memory is bound to the position, not the phase.
	inst.firedOnce = make(map[string]struct{})

	e.collaborators.Logger.Info("Trade closed",
		zap.String("instance", inst.key().String()),
		zap.String("ticket", ticket),
	)

	if phase, ok := inst.config.Phase(inst.phase); ok && phase.OnTradeClosed.IsSome() {
		to := phase.OnTradeClosed.Unwrap()
		e.journalRecord(journal.NewTransitionEntry(
			inst.lastEventTime, inst.config.ID, inst.symbol, inst.phase, to, "trade closed",
		))

		inst.enterPhase(to)
	}

	e.emitSnapshot(ctx, inst, inst.lastEventTime)

	return nil
}

// Snapshot implements the engine.Engine interface.
func (e *PlaybookEngineV1) Snapshot(playbookID string, symbol string) (types.Snapshot, error) {
	inst, err := e.instance(playbookID, symbol)
	if err != nil {
		return types.Snapshot{}, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	return inst.snapshot(inst.lastEventTime), nil
}

// FlushSnapshots implements the engine.Engine interface.
func (e *PlaybookEngineV1) FlushSnapshots(ctx context.Context) error {
	var failed int

	for _, inst := range e.activeInstances() {
		inst.mu.Lock()
		snapshot := inst.snapshot(inst.lastEventTime)
		if err := e.collaborators.Store.Save(ctx, snapshot); err != nil {
			inst.pendingSnapshot = &snapshot
			failed++

			e.collaborators.Logger.Error("Failed to flush snapshot",
				zap.String("instance", inst.key().String()),
				zap.Error(err),
			)
		} else {
			inst.pendingSnapshot = nil
		}
		inst.mu.Unlock()
	}

	if failed > 0 {
		return errors.Newf(errors.ErrCodeSnapshotWrite, "failed to flush %d snapshot(s)", failed)
	}

	return nil
}

func (e *PlaybookEngineV1) instance(playbookID string, symbol string) (*instance, error) {
	key := types.InstanceKey{PlaybookID: playbookID, Symbol: symbol}

	e.mu.RLock()
	inst, ok := e.instances[key]
	e.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrCodeInstanceNotFound, "no active instance %s", key)
	}

	return inst, nil
}

// activeInstances returns the active instances ordered by key so dispatch
// and flush order is deterministic.
func (e *PlaybookEngineV1) activeInstances() []*instance {
	e.mu.RLock()
	instances := make([]*instance, 0, len(e.instances))
	for _, inst := range e.instances {
		instances = append(instances, inst)
	}
	e.mu.RUnlock()

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].key().String() < instances[j].key().String()
	})

	return instances
}

// emitSnapshot persists the instance's current state. On failure the
// snapshot is retained and retried at the next dispatch; in-memory state
// stays authoritative either way.
func (e *PlaybookEngineV1) emitSnapshot(ctx context.Context, inst *instance, at time.Time) {
	snapshot := inst.snapshot(at)

	if err := e.collaborators.Store.Save(ctx, snapshot); err != nil {
		inst.pendingSnapshot = &snapshot

		e.collaborators.Logger.Error("Failed to persist snapshot, retrying next cycle",
			zap.String("instance", inst.key().String()),
			zap.Error(err),
		)

		return
	}

	inst.pendingSnapshot = nil
}
