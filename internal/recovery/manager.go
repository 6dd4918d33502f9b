// Package recovery implements the retry, checkpoint, rollback, transaction,
// and graceful-degradation primitives that let a playbook run survive and
// resume across transient failures. Each subsystem is opt-in: a
// RecoveryManager only carries the pieces its RecoveryConfig asks for.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/rustible/rustible/infrastructure/logging"
)

// RecoveryConfig selects which recovery subsystems a RecoveryManager carries
// and how each is configured. A nil/zero field for an optional subsystem
// means that subsystem is disabled.
type RecoveryConfig struct {
	RetryPolicy RetryPolicy

	EnableCheckpoints bool
	CheckpointConfig  CheckpointConfig

	EnableRollback bool

	EnableTransactions bool
	TransactionConfig  TransactionConfig

	EnableCircuitBreakers  bool
	CircuitBreakerConfig   CircuitBreakerConfig
	EnableDegradation      bool
	DegradationPolicy      DegradationPolicy
}

// DefaultRecoveryConfig enables rollback and transactions with their
// default configs but leaves checkpoints and circuit breaking off, matching
// a typical ad hoc local run.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		RetryPolicy:        DefaultRetryPolicy(),
		EnableRollback:     true,
		EnableTransactions: true,
		TransactionConfig:  DefaultTransactionConfig(),
	}
}

// MinimalRecoveryConfig disables every optional subsystem, leaving only the
// retry policy — for short-lived, single-host invocations where the
// overhead of checkpoints and transactions isn't worth it.
func MinimalRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		RetryPolicy: SimpleRetryPolicy(1),
	}
}

// ProductionRecoveryConfig turns on every subsystem with its production
// preset, for long-running orchestration runs that must survive restarts.
func ProductionRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		RetryPolicy:           DefaultRetryPolicy(),
		EnableCheckpoints:     true,
		CheckpointConfig:      ProductionCheckpointConfig(),
		EnableRollback:        true,
		EnableTransactions:    true,
		TransactionConfig:     ProductionTransactionConfig(),
		EnableCircuitBreakers: true,
		CircuitBreakerConfig:  DefaultCircuitBreakerConfig(),
		EnableDegradation:     true,
		DegradationPolicy:     DefaultDegradationPolicy(),
	}
}

// RecoveryManager composes the recovery subsystems behind a single facade,
// so the executor doesn't need to know which ones are actually active.
type RecoveryManager struct {
	config RecoveryConfig
	logger *logging.Logger

	checkpoints *CheckpointStore
	rollback    *RollbackManager
	transactions *TransactionManager
	circuits    *CircuitBreakers
	degradation *GracefulDegradation
}

// RecoveryManagerBuilder assembles a RecoveryManager field by field, mirroring
// the fluent construction style used elsewhere for optional subsystems.
type RecoveryManagerBuilder struct {
	config      RecoveryConfig
	logger      *logging.Logger
	connections ConnectionResolver
}

// NewRecoveryManagerBuilder starts a builder from config.
func NewRecoveryManagerBuilder(config RecoveryConfig) *RecoveryManagerBuilder {
	return &RecoveryManagerBuilder{config: config}
}

// WithLogger attaches a logger used by rollback execution and circuit state
// transitions.
func (b *RecoveryManagerBuilder) WithLogger(logger *logging.Logger) *RecoveryManagerBuilder {
	b.logger = logger
	return b
}

// WithConnectionResolver lets service/package/user rollback undo operations
// reach the managed host's live connection. Without it those operations
// fail descriptively rather than silently no-op.
func (b *RecoveryManagerBuilder) WithConnectionResolver(resolver ConnectionResolver) *RecoveryManagerBuilder {
	b.connections = resolver
	return b
}

// Build constructs the RecoveryManager, opening a checkpoint store if
// checkpoints are enabled.
func (b *RecoveryManagerBuilder) Build() (*RecoveryManager, error) {
	m := &RecoveryManager{config: b.config, logger: b.logger}

	if b.config.EnableCheckpoints {
		store, err := NewCheckpointStore(b.config.CheckpointConfig)
		if err != nil {
			return nil, fmt.Errorf("recovery manager: %w", err)
		}
		m.checkpoints = store
	}
	if b.config.EnableRollback {
		m.rollback = NewRollbackManager(b.logger).WithConnectionResolver(b.connections)
	}
	if b.config.EnableTransactions {
		m.transactions = NewTransactionManager(b.config.TransactionConfig)
	}
	if b.config.EnableCircuitBreakers {
		m.circuits = NewCircuitBreakers(b.config.CircuitBreakerConfig, b.logger)
	}
	if b.config.EnableDegradation {
		m.degradation = NewGracefulDegradation(b.config.DegradationPolicy)
	}

	return m, nil
}

// NewRecoveryManager is a convenience wrapper around the builder for callers
// that don't need to customize anything beyond the logger.
func NewRecoveryManager(config RecoveryConfig, logger *logging.Logger) (*RecoveryManager, error) {
	return NewRecoveryManagerBuilder(config).WithLogger(logger).Build()
}

// RunWithRetry wraps operation in the manager's configured RetryPolicy.
// sleep is usually time.Sleep; tests pass a no-op or recording stub.
func RunWithRetry[T any](m *RecoveryManager, operationName string, sleep func(time.Duration), operation func() (T, error)) (T, error) {
	return WithRetry(operationName, m.config.RetryPolicy, sleep, operation)
}

// CreateCheckpoint saves a checkpoint, returning an error if checkpointing
// isn't enabled on this manager.
func (m *RecoveryManager) CreateCheckpoint(ctx context.Context, playbookName string, state PlaybookState) (CheckpointID, error) {
	if m.checkpoints == nil {
		return "", fmt.Errorf("recovery error: checkpoints are not enabled")
	}
	return m.checkpoints.Save(ctx, NewCheckpoint(playbookName, state))
}

// ResumeFromCheckpoint loads the named checkpoint so the executor can skip
// already-completed (host, task) pairs.
func (m *RecoveryManager) ResumeFromCheckpoint(ctx context.Context, playbookName string, id CheckpointID) (PlaybookState, error) {
	if m.checkpoints == nil {
		return PlaybookState{}, fmt.Errorf("recovery error: checkpoints are not enabled")
	}
	checkpoint, err := m.checkpoints.Load(ctx, playbookName, id)
	if err != nil {
		return PlaybookState{}, err
	}
	return checkpoint.State, nil
}

// ListCheckpoints returns every checkpoint saved for playbookName.
func (m *RecoveryManager) ListCheckpoints(ctx context.Context, playbookName string) ([]Checkpoint, error) {
	if m.checkpoints == nil {
		return nil, fmt.Errorf("recovery error: checkpoints are not enabled")
	}
	return m.checkpoints.ListForPlaybook(ctx, playbookName)
}

// BeginRollbackTracking opens a new rollback context and returns its ID, or
// an error if rollback tracking isn't enabled.
func (m *RecoveryManager) BeginRollbackTracking() (string, error) {
	if m.rollback == nil {
		return "", fmt.Errorf("recovery error: rollback is not enabled")
	}
	return m.rollback.BeginContext().ID, nil
}

// RecordStateChange attaches change to the named rollback context.
func (m *RecoveryManager) RecordStateChange(contextID string, change StateChange) error {
	if m.rollback == nil {
		return fmt.Errorf("recovery error: rollback is not enabled")
	}
	return m.rollback.RecordChange(contextID, change)
}

// Rollback executes the recorded state changes for contextID in reverse.
func (m *RecoveryManager) Rollback(ctx context.Context, contextID string) error {
	if m.rollback == nil {
		return fmt.Errorf("recovery error: rollback is not enabled")
	}
	return m.rollback.ExecuteRollback(ctx, contextID)
}

// CommitRollbackTracking discards a rollback context without undoing it,
// once its changes no longer need to be reversible.
func (m *RecoveryManager) CommitRollbackTracking(contextID string) error {
	if m.rollback == nil {
		return fmt.Errorf("recovery error: rollback is not enabled")
	}
	return m.rollback.Commit(contextID)
}

// BeginTransaction starts a new top-level transaction.
func (m *RecoveryManager) BeginTransaction(name string) (TransactionID, error) {
	if m.transactions == nil {
		return "", fmt.Errorf("recovery error: transactions are not enabled")
	}
	return m.transactions.Begin(name), nil
}

// CommitTransaction commits id.
func (m *RecoveryManager) CommitTransaction(id TransactionID) error {
	if m.transactions == nil {
		return fmt.Errorf("recovery error: transactions are not enabled")
	}
	return m.transactions.Commit(id)
}

// RollbackTransaction rolls id back, undoing its operations via the
// manager's rollback subsystem if one is configured.
func (m *RecoveryManager) RollbackTransaction(ctx context.Context, id TransactionID) error {
	if m.transactions == nil {
		return fmt.Errorf("recovery error: transactions are not enabled")
	}
	return m.transactions.Rollback(ctx, id, m.rollback)
}

// WithTransaction runs operation inside a new transaction, committing on
// success and rolling back on error or panic.
func (m *RecoveryManager) WithTransaction(ctx context.Context, name string, operation func(TransactionID) error) (err error) {
	id, err := m.BeginTransaction(name)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = m.RollbackTransaction(ctx, id)
			panic(r)
		}
	}()

	if err := operation(id); err != nil {
		if rbErr := m.RollbackTransaction(ctx, id); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return m.CommitTransaction(id)
}

// CircuitBreaker returns the state of the named circuit breaker.
func (m *RecoveryManager) CircuitBreakerState(name string) (CircuitState, error) {
	if m.circuits == nil {
		return CircuitClosed, fmt.Errorf("recovery error: circuit breakers are not enabled")
	}
	return m.circuits.State(name), nil
}

// CallWithCircuitBreaker runs fn through the named circuit breaker.
func (m *RecoveryManager) CallWithCircuitBreaker(ctx context.Context, name string, fn func() error) error {
	if m.circuits == nil {
		return fn()
	}
	return m.circuits.Call(ctx, name, fn)
}

// CheckDegradation returns the fallback action an operation of the given
// criticality should take for component right now.
func (m *RecoveryManager) CheckDegradation(component string, criticality Criticality) FallbackAction {
	if m.degradation == nil {
		return FallbackNone
	}
	return m.degradation.FallbackFor(component, criticality)
}

// ReportFailure records a failure against component's degradation tracker.
func (m *RecoveryManager) ReportFailure(component string) {
	if m.degradation == nil {
		return
	}
	level := m.degradation.ReportFailure(component)
	if m.logger != nil && level > LevelNormal {
		m.logger.WithFields(map[string]interface{}{
			"component": component,
			"level":     level.String(),
		}).Warn("component degraded")
	}
}

// ReportSuccess clears component's degradation failure count.
func (m *RecoveryManager) ReportSuccess(component string) {
	if m.degradation == nil {
		return
	}
	m.degradation.ReportSuccess(component)
}

// Close releases any resources (currently just the checkpoint store) held
// by the manager.
func (m *RecoveryManager) Close(ctx context.Context) error {
	if m.checkpoints != nil {
		return m.checkpoints.Close(ctx)
	}
	return nil
}
