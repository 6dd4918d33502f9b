package recovery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustible/rustible/infrastructure/metrics"
)

// TransactionState is the 2PC-capable state machine driving a Transaction.
type TransactionState string

const (
	TxActive      TransactionState = "active"
	TxPreparing   TransactionState = "preparing"
	TxPrepared    TransactionState = "prepared"
	TxCommitting  TransactionState = "committing"
	TxCommitted   TransactionState = "committed"
	TxRollingBack TransactionState = "rolling_back"
	TxRolledBack  TransactionState = "rolled_back"
	TxFailed      TransactionState = "failed"
)

// TransactionPhase marks where an individual operation sits in its lifecycle.
type TransactionPhase string

const (
	PhaseBefore TransactionPhase = "before"
	PhaseDuring TransactionPhase = "during"
	PhaseAfter  TransactionPhase = "after"
	PhaseFailed TransactionPhase = "failed"
)

// TransactionConfig governs timeout, 2PC, and nesting behavior.
type TransactionConfig struct {
	Timeout          time.Duration
	TwoPhaseCommit   bool
	MaxOperations    int
	EnableLogging    bool
	LogDirectory     string
	EnableSavepoints bool
	MaxNestingDepth  int
}

// DefaultTransactionConfig mirrors the conservative single-phase default.
func DefaultTransactionConfig() TransactionConfig {
	return TransactionConfig{
		Timeout:          5 * time.Minute,
		TwoPhaseCommit:   false,
		MaxOperations:    1000,
		EnableLogging:    false,
		EnableSavepoints: true,
		MaxNestingDepth:  3,
	}
}

// ProductionTransactionConfig enables 2PC, logging, and a larger nesting
// budget, for use when every critical operation should be durable.
func ProductionTransactionConfig() TransactionConfig {
	return TransactionConfig{
		Timeout:          10 * time.Minute,
		TwoPhaseCommit:   true,
		MaxOperations:    10000,
		EnableLogging:    true,
		LogDirectory:     "/var/log/rustible/transactions",
		EnableSavepoints: true,
		MaxNestingDepth:  5,
	}
}

// TransactionOperation is one unit of work added to a transaction.
type TransactionOperation struct {
	ID             string
	Description    string
	StateChange    *StateChange
	RollbackAction *RollbackAction
	Phase          TransactionPhase
	Timestamp      time.Time
}

var txOpCounter int64

// NewTransactionOperation creates an operation in PhaseBefore with no
// attached state change; call WithStateChange to derive its rollback action.
func NewTransactionOperation(description string) TransactionOperation {
	n := atomic.AddInt64(&txOpCounter, 1)
	return TransactionOperation{
		ID:          fmt.Sprintf("op-%d", n),
		Description: description,
		Phase:       PhaseBefore,
		Timestamp:   time.Now(),
	}
}

// WithStateChange attaches a state change, deriving its rollback action.
func (o TransactionOperation) WithStateChange(change StateChange) TransactionOperation {
	action := RollbackActionFromStateChange(change)
	o.StateChange = &change
	o.RollbackAction = &action
	return o
}

// WithRollback attaches a caller-supplied rollback action instead of one
// derived from a StateChange.
func (o TransactionOperation) WithRollback(action RollbackAction) TransactionOperation {
	o.RollbackAction = &action
	return o
}

// Savepoint marks a position within a transaction's operation list that
// rollback_to_savepoint can later unwind to.
type Savepoint struct {
	Name           string
	OperationIndex int
	Timestamp      time.Time
}

// TransactionID uniquely identifies a Transaction: "tx-{unixmilli}-{counter}".
type TransactionID string

var txIDCounter int64

func newTransactionID() TransactionID {
	n := atomic.AddInt64(&txIDCounter, 1)
	return TransactionID(fmt.Sprintf("tx-%d-%d", time.Now().UnixMilli(), n))
}

// Transaction is the unit the TransactionManager mutates.
type Transaction struct {
	ID         TransactionID
	Name       string
	State      TransactionState
	Operations []TransactionOperation
	Savepoints []Savepoint
	ParentID   *TransactionID
	StartedAt  time.Time
	EndedAt    *time.Time
	Timeout    time.Duration
	Metadata   map[string]any
}

// IsTimedOut reports whether the transaction has exceeded its deadline.
// Callers check this lazily on every mutating call rather than through a
// background sweep.
func (t *Transaction) IsTimedOut() bool {
	return time.Since(t.StartedAt) > t.Timeout
}

// TransactionContext is passed to a caller-supplied operation run inside
// WithTransaction.
type TransactionContext struct {
	TransactionID  TransactionID
	OperationIndex int
	RollingBack    bool
}

// TransactionManager implements the begin/add/prepare/commit/rollback state
// machine, including savepoints and bounded-depth nested transactions.
type TransactionManager struct {
	mu           sync.Mutex
	config       TransactionConfig
	transactions map[TransactionID]*Transaction
	activeCount  int
}

func NewTransactionManager(config TransactionConfig) *TransactionManager {
	return &TransactionManager{
		config:       config,
		transactions: make(map[TransactionID]*Transaction),
	}
}

// Begin starts a new top-level transaction in TxActive.
func (m *TransactionManager) Begin(name string) TransactionID {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &Transaction{
		ID:        newTransactionID(),
		Name:      name,
		State:     TxActive,
		StartedAt: time.Now(),
		Timeout:   m.config.Timeout,
		Metadata:  make(map[string]any),
	}
	m.transactions[tx.ID] = tx
	m.activeCount++
	return tx.ID
}

// nestingDepth walks the parent_id chain to determine how deep tx sits.
func (m *TransactionManager) nestingDepth(id TransactionID) int {
	depth := 0
	current := id
	for {
		tx, ok := m.transactions[current]
		if !ok || tx.ParentID == nil {
			return depth
		}
		depth++
		current = *tx.ParentID
	}
}

// BeginNested starts a transaction whose parent is parentID, enforcing
// MaxNestingDepth.
func (m *TransactionManager) BeginNested(parentID TransactionID, name string) (TransactionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.transactions[parentID]
	if !ok {
		return "", fmt.Errorf("transaction not found: %s", parentID)
	}

	depth := m.nestingDepth(parentID)
	if depth >= m.config.MaxNestingDepth {
		return "", fmt.Errorf("maximum nesting depth (%d) exceeded", m.config.MaxNestingDepth)
	}
	if parent.State != TxActive {
		return "", fmt.Errorf("invalid transaction state: expected %s, got %s", TxActive, parent.State)
	}

	tx := &Transaction{
		ID:        newTransactionID(),
		Name:      name,
		State:     TxActive,
		ParentID:  &parentID,
		StartedAt: time.Now(),
		Timeout:   m.config.Timeout,
		Metadata:  make(map[string]any),
	}
	m.transactions[tx.ID] = tx
	m.activeCount++
	return tx.ID, nil
}

// AddOperation appends an operation to an active, non-timed-out transaction.
func (m *TransactionManager) AddOperation(id TransactionID, op TransactionOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	if tx.State != TxActive {
		return fmt.Errorf("invalid transaction state: expected %s, got %s", TxActive, tx.State)
	}
	if tx.IsTimedOut() {
		return fmt.Errorf("transaction timeout: %s", id)
	}
	if len(tx.Operations) >= m.config.MaxOperations {
		return fmt.Errorf("maximum operations (%d) exceeded", m.config.MaxOperations)
	}

	tx.Operations = append(tx.Operations, op)
	return nil
}

// Savepoint records the current operation count under name.
func (m *TransactionManager) Savepoint(id TransactionID, name string) error {
	if !m.config.EnableSavepoints {
		return fmt.Errorf("savepoints are not enabled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	if tx.State != TxActive {
		return fmt.Errorf("invalid transaction state: expected %s, got %s", TxActive, tx.State)
	}

	tx.Savepoints = append(tx.Savepoints, Savepoint{
		Name:           name,
		OperationIndex: len(tx.Operations),
		Timestamp:      time.Now(),
	})
	return nil
}

// RollbackToSavepoint undoes every operation added after the named
// savepoint, in reverse order, and discards savepoints created after it.
func (m *TransactionManager) RollbackToSavepoint(ctx context.Context, id TransactionID, rb *RollbackManager, savepointName string) error {
	m.mu.Lock()
	tx, ok := m.transactions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("transaction not found: %s", id)
	}

	var sp *Savepoint
	for i := range tx.Savepoints {
		if tx.Savepoints[i].Name == savepointName {
			s := tx.Savepoints[i]
			sp = &s
			break
		}
	}
	if sp == nil {
		m.mu.Unlock()
		return fmt.Errorf("savepoint %q not found", savepointName)
	}

	var toUndo []TransactionOperation
	for len(tx.Operations) > sp.OperationIndex {
		last := tx.Operations[len(tx.Operations)-1]
		tx.Operations = tx.Operations[:len(tx.Operations)-1]
		toUndo = append(toUndo, last)
	}

	retained := tx.Savepoints[:0]
	for _, s := range tx.Savepoints {
		if s.Name == savepointName || s.OperationIndex < sp.OperationIndex {
			retained = append(retained, s)
		}
	}
	tx.Savepoints = retained
	m.mu.Unlock()

	for _, op := range toUndo {
		if op.RollbackAction == nil {
			continue
		}
		if rb != nil {
			_ = rb.ExecuteRollbackAction(ctx, *op.RollbackAction)
		}
	}
	return nil
}

// Prepare drives the transaction through the 2PC prepare phase.
func (m *TransactionManager) Prepare(id TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	if tx.State != TxActive {
		return fmt.Errorf("invalid transaction state: expected %s, got %s", TxActive, tx.State)
	}
	if tx.IsTimedOut() {
		return fmt.Errorf("transaction timeout: %s", id)
	}

	tx.State = TxPreparing
	tx.State = TxPrepared
	return nil
}

// Commit drives the transaction to TxCommitted, auto-preparing when 2PC is
// enabled and the caller skipped an explicit Prepare call.
func (m *TransactionManager) Commit(id TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}

	if m.config.TwoPhaseCommit && tx.State != TxPrepared {
		if tx.State == TxActive {
			tx.State = TxPreparing
			tx.State = TxPrepared
		} else {
			return fmt.Errorf("invalid transaction state: expected %s, got %s", TxPrepared, tx.State)
		}
	} else if tx.State != TxActive && tx.State != TxPrepared {
		return fmt.Errorf("invalid transaction state: expected %s, got %s", TxActive, tx.State)
	}

	if tx.IsTimedOut() {
		return fmt.Errorf("transaction timeout: %s", id)
	}

	tx.State = TxCommitting
	for i := range tx.Operations {
		tx.Operations[i].Phase = PhaseAfter
	}
	tx.State = TxCommitted
	now := time.Now()
	tx.EndedAt = &now
	m.activeCount--
	metrics.Global().RecordTransaction(string(TxCommitted))

	if tx.ParentID != nil {
		if parent, ok := m.transactions[*tx.ParentID]; ok {
			parent.Operations = append(parent.Operations, tx.Operations...)
		}
	}

	return nil
}

// Rollback drives the transaction to TxRolledBack, undoing its operations in
// reverse order. Rolling back a nested transaction only undoes its own
// operations; the parent is untouched and may still commit.
func (m *TransactionManager) Rollback(ctx context.Context, id TransactionID, rb *RollbackManager) error {
	m.mu.Lock()
	tx, ok := m.transactions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("transaction not found: %s", id)
	}
	if tx.State == TxCommitted {
		m.mu.Unlock()
		return fmt.Errorf("invalid transaction state: expected %s, got %s", TxActive, tx.State)
	}
	if tx.State == TxRolledBack {
		m.mu.Unlock()
		return nil
	}

	tx.State = TxRollingBack
	ops := append([]TransactionOperation(nil), tx.Operations...)
	m.mu.Unlock()

	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].RollbackAction == nil {
			continue
		}
		if rb != nil {
			_ = rb.ExecuteRollbackAction(ctx, *ops[i].RollbackAction)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range tx.Operations {
		tx.Operations[i].Phase = PhaseFailed
	}
	tx.State = TxRolledBack
	now := time.Now()
	tx.EndedAt = &now
	m.activeCount--
	metrics.Global().RecordTransaction(string(TxRolledBack))
	return nil
}

// Get returns a transaction by ID.
func (m *TransactionManager) Get(id TransactionID) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	return tx, ok
}

// ActiveCount returns the number of transactions not yet committed/rolled back.
func (m *TransactionManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCount
}

// Config returns the manager's configuration.
func (m *TransactionManager) Config() TransactionConfig {
	return m.config
}

// Cleanup drops committed/rolled-back transactions that ended more than
// maxAge ago, bounding memory growth for long-running processes.
func (m *TransactionManager) Cleanup(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, tx := range m.transactions {
		if tx.EndedAt != nil && now.Sub(*tx.EndedAt) > maxAge {
			delete(m.transactions, id)
		}
	}
}
