package system

import (
	"context"
	"fmt"
	"strings"
)

// UserManager manages local login users.
type UserManager struct {
	runner CommandRunner
}

// NewUserManager creates a user manager over the given runner.
func NewUserManager(runner CommandRunner) *UserManager {
	return &UserManager{runner: runner}
}

// Exists reports whether a user exists.
func (u *UserManager) Exists(ctx context.Context, name string) (bool, error) {
	if _, err := u.runner.Run(ctx, "id", "-u", name); err != nil {
		// id exits non-zero when the user is unknown
		return false, nil
	}
	return true, nil
}

// Create creates a user with a home directory and the given shell and
// supplementary groups.
func (u *UserManager) Create(ctx context.Context, name, shell string, groups []string) error {
	args := []string{"-m"}
	if shell != "" {
		args = append(args, "-s", shell)
	}
	if len(groups) > 0 {
		args = append(args, "-G", strings.Join(groups, ","))
	}
	args = append(args, name)

	if _, err := u.runner.Run(ctx, "useradd", args...); err != nil {
		return fmt.Errorf("failed to create user %s: %w", name, err)
	}
	return nil
}

// Delete removes a user and its home directory. A missing user is not an
// error, so replayed rollbacks stay idempotent.
func (u *UserManager) Delete(ctx context.Context, name string) error {
	exists, err := u.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	if _, err := u.runner.Run(ctx, "userdel", "-r", name); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", name, err)
	}
	return nil
}
