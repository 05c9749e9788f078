package system

import (
	"context"
	"fmt"
)

// HostUndoer performs the real-world effect of recorded rollback actions on
// the local host. It satisfies the ledger's Undoer contract.
type HostUndoer struct {
	apt      *AptManager
	services *ServiceManager
	users    *UserManager
	runner   CommandRunner
}

// NewHostUndoer creates an undoer sharing the given managers, so replayed
// package removals serialize on the same package-manager mutex as forward
// installs.
func NewHostUndoer(apt *AptManager, services *ServiceManager, users *UserManager, runner CommandRunner) *HostUndoer {
	return &HostUndoer{
		apt:      apt,
		services: services,
		users:    users,
		runner:   runner,
	}
}

// RemovePackages purges the given packages.
func (u *HostUndoer) RemovePackages(ctx context.Context, packages []string) error {
	return u.apt.Remove(ctx, packages...)
}

// RestoreFile copies a backup over its destination.
func (u *HostUndoer) RestoreFile(ctx context.Context, backupPath, destPath string) error {
	return RestoreFile(backupPath, destPath)
}

// StopService stops and optionally disables a unit.
func (u *HostUndoer) StopService(ctx context.Context, unit string, disable bool) error {
	if err := u.services.Stop(ctx, unit); err != nil {
		return err
	}
	if disable {
		return u.services.Disable(ctx, unit)
	}
	return nil
}

// RunCommand executes an arbitrary compensating command.
func (u *HostUndoer) RunCommand(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty compensating command")
	}
	_, err := u.runner.Run(ctx, argv[0], argv[1:]...)
	return err
}

// DeleteUser removes a created user.
func (u *HostUndoer) DeleteUser(ctx context.Context, name string) error {
	return u.users.Delete(ctx, name)
}

// RemoveSymlink removes a created symlink.
func (u *HostUndoer) RemoveSymlink(ctx context.Context, link string) error {
	return RemoveSymlink(link)
}
