package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yunaamelia/debian-vps-workstation/pkg/engine"
	"github.com/yunaamelia/debian-vps-workstation/pkg/rollback"
	"github.com/yunaamelia/debian-vps-workstation/pkg/system"
)

// WorkstationUserName is the registry key of the login user module.
const WorkstationUserName = "workstation-user"

// WorkstationUser creates the workstation login user and optionally links
// a dotfiles checkout into its home directory.
type WorkstationUser struct {
	username       string
	shell          string
	groups         []string
	dotfilesSource string
	dotfilesLink   string
}

// NewWorkstationUser constructs the module from its options.
func NewWorkstationUser(options map[string]interface{}) (engine.Module, error) {
	username, err := optString(options, "username", "")
	if err != nil {
		return nil, err
	}
	if username == "" {
		return nil, fmt.Errorf("option \"username\" is required")
	}
	shell, err := optString(options, "shell", "/bin/bash")
	if err != nil {
		return nil, err
	}
	groups, err := optStringSlice(options, "groups", []string{"sudo"})
	if err != nil {
		return nil, err
	}
	dotfilesSource, err := optString(options, "dotfiles_source", "")
	if err != nil {
		return nil, err
	}
	dotfilesLink, err := optString(options, "dotfiles_link", "")
	if err != nil {
		return nil, err
	}
	if dotfilesSource != "" && dotfilesLink == "" {
		dotfilesLink = filepath.Join("/home", username, ".dotfiles")
	}
	return &WorkstationUser{
		username:       username,
		shell:          shell,
		groups:         groups,
		dotfilesSource: dotfilesSource,
		dotfilesLink:   dotfilesLink,
	}, nil
}

// Name returns the module name.
func (m *WorkstationUser) Name() string { return WorkstationUserName }

// Validate checks the shell exists and the dotfiles source, if configured.
func (m *WorkstationUser) Validate(ctx context.Context, rc *engine.RunContext) (bool, error) {
	if _, err := os.Stat(m.shell); err != nil {
		return false, fmt.Errorf("shell %s not found: %w", m.shell, err)
	}
	if m.dotfilesSource != "" {
		if _, err := os.Stat(m.dotfilesSource); err != nil {
			return false, fmt.Errorf("dotfiles source %s not found: %w", m.dotfilesSource, err)
		}
	}
	return true, nil
}

// Configure creates the user when missing and links the dotfiles. An
// already existing user is left alone and not recorded for deletion.
func (m *WorkstationUser) Configure(ctx context.Context, rc *engine.RunContext) error {
	exists, err := rc.Users.Exists(ctx, m.username)
	if err != nil {
		return err
	}
	if !exists {
		if err := rc.Ledger.Record(ctx, WorkstationUserName, rollback.KindUserDelete,
			rollback.UserDeletePayload{Name: m.username}); err != nil {
			return err
		}
		if err := rc.Users.Create(ctx, m.username, m.shell, m.groups); err != nil {
			return err
		}
	}

	if m.dotfilesSource != "" {
		if err := rc.Ledger.Record(ctx, WorkstationUserName, rollback.KindSymlinkRemove,
			rollback.SymlinkRemovePayload{Link: m.dotfilesLink}); err != nil {
			return err
		}
		if err := system.EnsureSymlink(m.dotfilesSource, m.dotfilesLink); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks the user exists and the dotfiles link resolves.
func (m *WorkstationUser) Verify(ctx context.Context, rc *engine.RunContext) (bool, error) {
	exists, err := rc.Users.Exists(ctx, m.username)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("user %s does not exist", m.username)
	}
	if m.dotfilesSource != "" {
		target, err := os.Readlink(m.dotfilesLink)
		if err != nil {
			return false, fmt.Errorf("dotfiles link missing: %w", err)
		}
		if target != m.dotfilesSource {
			return false, fmt.Errorf("dotfiles link points at %s, want %s", target, m.dotfilesSource)
		}
	}
	return true, nil
}
