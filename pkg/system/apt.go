package system

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// AptManager wraps apt-get/dpkg and serializes every mutating invocation
// behind a single process-wide mutex. dpkg holds a global lock on the host;
// two concurrent apt-get runs fail, so modules executing in the same batch
// must funnel through one AptManager instance.
type AptManager struct {
	mu     sync.Mutex
	runner CommandRunner
}

// NewAptManager creates an apt manager over the given runner.
func NewAptManager(runner CommandRunner) *AptManager {
	return &AptManager{runner: runner}
}

// Update refreshes the package index. Network operation: callers should
// route it through the retry executor under the "package-mirror" service.
func (a *AptManager) Update(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.runner.Run(ctx, "apt-get", "update", "-q"); err != nil {
		return fmt.Errorf("apt update failed: %w", err)
	}
	return nil
}

// Install installs the given packages. Network operation, same routing rule
// as Update.
func (a *AptManager) Install(ctx context.Context, packages ...string) error {
	if len(packages) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	args := append([]string{"install", "-y", "-q", "--no-install-recommends"}, packages...)
	if _, err := a.runner.Run(ctx, "apt-get", args...); err != nil {
		return fmt.Errorf("apt install %s failed: %w", strings.Join(packages, " "), err)
	}
	return nil
}

// Remove purges the given packages.
func (a *AptManager) Remove(ctx context.Context, packages ...string) error {
	if len(packages) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	args := append([]string{"purge", "-y", "-q"}, packages...)
	if _, err := a.runner.Run(ctx, "apt-get", args...); err != nil {
		return fmt.Errorf("apt purge %s failed: %w", strings.Join(packages, " "), err)
	}
	return nil
}

// IsInstalled reports whether a package is installed and its version.
// Read-only: does not take the package-manager mutex.
func (a *AptManager) IsInstalled(ctx context.Context, pkg string) (bool, string, error) {
	output, err := a.runner.Run(ctx, "dpkg-query", "-W", "-f=${Version}", pkg)
	if err != nil {
		// dpkg-query exits non-zero for unknown packages
		return false, "", nil
	}
	return true, strings.TrimSpace(string(output)), nil
}
