package rollback

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yunaamelia/debian-vps-workstation/pkg/telemetry"
)

// Store is the durable backend for ledger records, keyed by installation ID.
// Implementations serialize writes internally; callers never need external
// locking.
type Store interface {
	// AppendAction durably records an action. It must not return before the
	// record is persisted.
	AppendAction(ctx context.Context, installationID string, action *Action) error

	// ActionsByOwner returns one module's actions in ascending sequence order.
	ActionsByOwner(ctx context.Context, installationID, owner string) ([]Action, error)

	// AllActions returns every action in ascending sequence order.
	AllActions(ctx context.Context, installationID string) ([]Action, error)

	// MarkConsumed flags a replayed action so it is never replayed again.
	MarkConsumed(ctx context.Context, installationID string, sequence int64) error

	// MaxSequence returns the highest recorded sequence (0 when empty).
	MaxSequence(ctx context.Context, installationID string) (int64, error)
}

// RollbackPartialFailureError reports compensating actions that failed
// during a replay. It is always surfaced, never swallowed: the host may be
// left inconsistent and an operator has to inspect it.
type RollbackPartialFailureError struct {
	// Owner is the module being undone, or "" for a whole-run replay.
	Owner string

	// Errs holds one error per failed action.
	Errs []error
}

// Error implements the error interface.
func (e *RollbackPartialFailureError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	scope := "run"
	if e.Owner != "" {
		scope = fmt.Sprintf("module %q", e.Owner)
	}
	return fmt.Sprintf("rollback of %s left %d actions unapplied: %s",
		scope, len(e.Errs), strings.Join(msgs, "; "))
}

// Unwrap exposes the per-action errors to errors.Is/As.
func (e *RollbackPartialFailureError) Unwrap() []error {
	return e.Errs
}

// Ledger is the append-only record of compensating actions for one
// installation. Sequence numbers are assigned under the ledger's own lock,
// so concurrent modules get a total order for undo.
type Ledger struct {
	mu             sync.Mutex
	installationID string
	store          Store
	undoer         Undoer
	seq            int64
	log            *telemetry.Logger
	metrics        *telemetry.Metrics
}

// NewLedger opens the ledger for an installation, resuming the sequence
// counter from the store so appends after a restart stay monotonic.
func NewLedger(ctx context.Context, installationID string, store Store, undoer Undoer, log *telemetry.Logger, metrics *telemetry.Metrics) (*Ledger, error) {
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}

	seq, err := store.MaxSequence(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger sequence: %w", err)
	}

	return &Ledger{
		installationID: installationID,
		store:          store,
		undoer:         undoer,
		seq:            seq,
		log:            log.NewComponentLogger("ledger").WithInstallationID(installationID),
		metrics:        metrics,
	}, nil
}

// Record durably appends a compensating action for owner. It must be called
// before the corresponding real-world effect is attempted.
func (l *Ledger) Record(ctx context.Context, owner string, kind Kind, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	action := &Action{
		Owner:      owner,
		Sequence:   l.seq,
		Kind:       kind,
		Payload:    raw,
		RecordedAt: time.Now().UTC(),
	}

	if err := l.store.AppendAction(ctx, l.installationID, action); err != nil {
		// The sequence number is burned; gaps are harmless.
		return fmt.Errorf("failed to record rollback action: %w", err)
	}

	l.log.Zerolog().Debug().
		Str("owner", owner).
		Str("kind", string(kind)).
		Int64("sequence", action.Sequence).
		Msg("Rollback action recorded")

	return nil
}

// LastSequence returns the highest sequence assigned so far.
func (l *Ledger) LastSequence() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Undo replays one module's actions in reverse sequence order,
// best-effort. Every action is attempted even when an earlier one fails;
// the returned slice holds one error per failed action.
func (l *Ledger) Undo(ctx context.Context, owner string) []error {
	actions, err := l.store.ActionsByOwner(ctx, l.installationID, owner)
	if err != nil {
		return []error{fmt.Errorf("failed to load ledger for %s: %w", owner, err)}
	}
	return l.replay(ctx, actions)
}

// UndoAll replays every recorded action in reverse chronological order,
// independent of owner.
func (l *Ledger) UndoAll(ctx context.Context) []error {
	actions, err := l.store.AllActions(ctx, l.installationID)
	if err != nil {
		return []error{fmt.Errorf("failed to load ledger: %w", err)}
	}
	return l.replay(ctx, actions)
}

// Discard marks every unconsumed action of owner consumed without replaying
// it. Called when a module compensated through its own rollback override, so
// a later whole-run replay does not undo the same work twice.
func (l *Ledger) Discard(ctx context.Context, owner string) error {
	actions, err := l.store.ActionsByOwner(ctx, l.installationID, owner)
	if err != nil {
		return fmt.Errorf("failed to load ledger for %s: %w", owner, err)
	}
	for i := range actions {
		if actions[i].Consumed {
			continue
		}
		if err := l.store.MarkConsumed(ctx, l.installationID, actions[i].Sequence); err != nil {
			return fmt.Errorf("action %d not marked consumed: %w", actions[i].Sequence, err)
		}
	}
	return nil
}

// replay applies actions in descending sequence order, skipping consumed
// ones and marking each success consumed so a crash mid-rollback never
// repeats work.
func (l *Ledger) replay(ctx context.Context, actions []Action) []error {
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].Sequence > actions[j].Sequence
	})

	var errs []error
	for i := range actions {
		action := &actions[i]
		if action.Consumed {
			continue
		}

		if err := l.apply(ctx, action); err != nil {
			l.metrics.RecordRollbackAction(string(action.Kind), "failure")
			l.log.Zerolog().Error().
				Err(err).
				Str("owner", action.Owner).
				Str("kind", string(action.Kind)).
				Int64("sequence", action.Sequence).
				Msg("Compensating action failed")
			errs = append(errs, fmt.Errorf("action %d (%s, owner %s): %w",
				action.Sequence, action.Kind, action.Owner, err))
			continue
		}

		l.metrics.RecordRollbackAction(string(action.Kind), "success")
		if err := l.store.MarkConsumed(ctx, l.installationID, action.Sequence); err != nil {
			errs = append(errs, fmt.Errorf("action %d replayed but not marked consumed: %w",
				action.Sequence, err))
		}
	}

	return errs
}

// apply dispatches one action to the undoer.
func (l *Ledger) apply(ctx context.Context, action *Action) error {
	switch action.Kind {
	case KindPackageRemove:
		var p PackageRemovePayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		return l.undoer.RemovePackages(ctx, p.Packages)

	case KindFileRestore:
		var p FileRestorePayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		return l.undoer.RestoreFile(ctx, p.BackupPath, p.DestPath)

	case KindServiceStop:
		var p ServiceStopPayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		return l.undoer.StopService(ctx, p.Unit, p.Disable)

	case KindRunCommand:
		var p RunCommandPayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		return l.undoer.RunCommand(ctx, p.Argv)

	case KindUserDelete:
		var p UserDeletePayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		return l.undoer.DeleteUser(ctx, p.Name)

	case KindSymlinkRemove:
		var p SymlinkRemovePayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		return l.undoer.RemoveSymlink(ctx, p.Link)

	default:
		return fmt.Errorf("unknown rollback action kind %q", action.Kind)
	}
}

// PartialFailure wraps a non-empty error list from Undo/UndoAll into a
// *RollbackPartialFailureError; nil when the list is empty.
func PartialFailure(owner string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &RollbackPartialFailureError{Owner: owner, Errs: errs}
}
