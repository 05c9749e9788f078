package rollback

import (
	"context"
	"encoding/json"
	"time"
)

// Kind identifies the type of a compensating action.
type Kind string

const (
	KindPackageRemove Kind = "package_remove"
	KindFileRestore   Kind = "file_restore"
	KindServiceStop   Kind = "service_stop"
	KindRunCommand    Kind = "run_command"
	KindUserDelete    Kind = "user_delete"
	KindSymlinkRemove Kind = "symlink_remove"
)

// Action is one recorded compensating step. Immutable once recorded; the
// sequence number defines undo order across all owners.
type Action struct {
	// Owner is the module that recorded the action.
	Owner string `json:"owner"`

	// Sequence is the monotonic counter assigned by the ledger.
	Sequence int64 `json:"sequence"`

	// Kind selects the payload type and replay behavior.
	Kind Kind `json:"kind"`

	// Payload is the kind-specific data.
	Payload json.RawMessage `json:"payload"`

	// RecordedAt is when the action was durably recorded.
	RecordedAt time.Time `json:"recorded_at"`

	// Consumed marks an action that has already been replayed.
	Consumed bool `json:"consumed"`
}

// PackageRemovePayload undoes a package installation.
type PackageRemovePayload struct {
	Packages []string `json:"packages"`
}

// FileRestorePayload restores a backed-up file over its destination.
type FileRestorePayload struct {
	BackupPath string `json:"backup_path"`
	DestPath   string `json:"dest_path"`
}

// ServiceStopPayload stops (and optionally disables) a systemd unit.
type ServiceStopPayload struct {
	Unit    string `json:"unit"`
	Disable bool   `json:"disable"`
}

// RunCommandPayload replays an arbitrary compensating command.
type RunCommandPayload struct {
	Argv []string `json:"argv"`
}

// UserDeletePayload removes a created user and its home directory.
type UserDeletePayload struct {
	Name string `json:"name"`
}

// SymlinkRemovePayload removes a created symlink.
type SymlinkRemovePayload struct {
	Link string `json:"link"`
}

// Undoer performs the real-world effect of each action kind during replay.
// pkg/system provides the host implementation; tests substitute a fake.
type Undoer interface {
	RemovePackages(ctx context.Context, packages []string) error
	RestoreFile(ctx context.Context, backupPath, destPath string) error
	StopService(ctx context.Context, unit string, disable bool) error
	RunCommand(ctx context.Context, argv []string) error
	DeleteUser(ctx context.Context, name string) error
	RemoveSymlink(ctx context.Context, link string) error
}
