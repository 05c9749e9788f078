package modules

import (
	"context"
	"fmt"

	"github.com/yunaamelia/debian-vps-workstation/pkg/engine"
	"github.com/yunaamelia/debian-vps-workstation/pkg/rollback"
)

// ContainerRuntimeName is the registry key of the container runtime module.
const ContainerRuntimeName = "container-runtime"

// ContainerRuntime installs the Docker engine and enables its service.
type ContainerRuntime struct {
	packages []string
	unit     string
}

// NewContainerRuntime constructs the module from its options.
func NewContainerRuntime(options map[string]interface{}) (engine.Module, error) {
	packages, err := optStringSlice(options, "packages", []string{"docker.io", "docker-compose"})
	if err != nil {
		return nil, err
	}
	unit, err := optString(options, "unit", "docker")
	if err != nil {
		return nil, err
	}
	return &ContainerRuntime{packages: packages, unit: unit}, nil
}

// Name returns the module name.
func (m *ContainerRuntime) Name() string { return ContainerRuntimeName }

// Validate checks that apt is usable.
func (m *ContainerRuntime) Validate(ctx context.Context, rc *engine.RunContext) (bool, error) {
	if _, err := rc.Runner.Run(ctx, "apt-get", "--version"); err != nil {
		return false, fmt.Errorf("apt-get not available: %w", err)
	}
	return true, nil
}

// Configure installs the runtime packages and enables the service. Both the
// package removal and the service stop are recorded before their effects.
func (m *ContainerRuntime) Configure(ctx context.Context, rc *engine.RunContext) error {
	var missing []string
	for _, pkg := range m.packages {
		installed, _, err := rc.Apt.IsInstalled(ctx, pkg)
		if err != nil {
			return err
		}
		if !installed {
			missing = append(missing, pkg)
		}
	}

	if len(missing) > 0 {
		if err := rc.Ledger.Record(ctx, ContainerRuntimeName, rollback.KindPackageRemove,
			rollback.PackageRemovePayload{Packages: missing}); err != nil {
			return err
		}
		if err := rc.Retry.Do(ctx, mirrorService, func(ctx context.Context) error {
			return rc.Apt.Install(ctx, missing...)
		}); err != nil {
			return err
		}
	}

	if err := rc.Ledger.Record(ctx, ContainerRuntimeName, rollback.KindServiceStop,
		rollback.ServiceStopPayload{Unit: m.unit, Disable: true}); err != nil {
		return err
	}
	if err := rc.Services.Enable(ctx, m.unit); err != nil {
		return err
	}
	return rc.Services.Start(ctx, m.unit)
}

// Verify checks that the runtime service is active and the CLI answers.
func (m *ContainerRuntime) Verify(ctx context.Context, rc *engine.RunContext) (bool, error) {
	active, err := rc.Services.IsActive(ctx, m.unit)
	if err != nil {
		return false, err
	}
	if !active {
		return false, fmt.Errorf("unit %s is not active", m.unit)
	}
	if _, err := rc.Runner.Run(ctx, "docker", "version", "--format", "{{.Server.Version}}"); err != nil {
		return false, fmt.Errorf("docker daemon not answering: %w", err)
	}
	return true, nil
}
