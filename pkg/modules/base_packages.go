package modules

import (
	"context"
	"fmt"

	"github.com/yunaamelia/debian-vps-workstation/pkg/engine"
	"github.com/yunaamelia/debian-vps-workstation/pkg/rollback"
)

// BasePackagesName is the registry key of the base package module.
const BasePackagesName = "base-packages"

// mirrorService is the breaker service name shared by every module that
// talks to the package mirror.
const mirrorService = "package-mirror"

// defaultBasePackages is installed when the configuration lists none.
var defaultBasePackages = []string{
	"curl", "git", "htop", "tmux", "unzip", "build-essential", "ca-certificates",
}

// BasePackages installs the base package set through apt.
type BasePackages struct {
	packages []string
}

// NewBasePackages constructs the module from its options.
func NewBasePackages(options map[string]interface{}) (engine.Module, error) {
	packages, err := optStringSlice(options, "packages", defaultBasePackages)
	if err != nil {
		return nil, err
	}
	if len(packages) == 0 {
		return nil, fmt.Errorf("option \"packages\" must not be empty")
	}
	return &BasePackages{packages: packages}, nil
}

// Name returns the module name.
func (m *BasePackages) Name() string { return BasePackagesName }

// Validate checks that the apt toolchain is present.
func (m *BasePackages) Validate(ctx context.Context, rc *engine.RunContext) (bool, error) {
	if _, err := rc.Runner.Run(ctx, "apt-get", "--version"); err != nil {
		return false, fmt.Errorf("apt-get not available: %w", err)
	}
	return true, nil
}

// Configure installs the missing packages. The mirror refresh and the
// install both go through the retry executor so a flaky mirror is retried
// and a dead one trips the shared breaker.
func (m *BasePackages) Configure(ctx context.Context, rc *engine.RunContext) error {
	missing, err := m.missingPackages(ctx, rc)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	if err := rc.Ledger.Record(ctx, BasePackagesName, rollback.KindPackageRemove,
		rollback.PackageRemovePayload{Packages: missing}); err != nil {
		return err
	}

	if err := rc.Retry.Do(ctx, mirrorService, func(ctx context.Context) error {
		return rc.Apt.Update(ctx)
	}); err != nil {
		return fmt.Errorf("package index refresh failed: %w", err)
	}

	return rc.Retry.Do(ctx, mirrorService, func(ctx context.Context) error {
		return rc.Apt.Install(ctx, missing...)
	})
}

// Verify checks that every requested package is installed.
func (m *BasePackages) Verify(ctx context.Context, rc *engine.RunContext) (bool, error) {
	for _, pkg := range m.packages {
		installed, _, err := rc.Apt.IsInstalled(ctx, pkg)
		if err != nil {
			return false, err
		}
		if !installed {
			return false, fmt.Errorf("package %s not installed", pkg)
		}
	}
	return true, nil
}

// missingPackages returns the requested packages that are not yet present.
func (m *BasePackages) missingPackages(ctx context.Context, rc *engine.RunContext) ([]string, error) {
	var missing []string
	for _, pkg := range m.packages {
		installed, _, err := rc.Apt.IsInstalled(ctx, pkg)
		if err != nil {
			return nil, err
		}
		if !installed {
			missing = append(missing, pkg)
		}
	}
	return missing, nil
}
