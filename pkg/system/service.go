package system

import (
	"context"
	"fmt"
	"strings"
)

// ServiceManager controls systemd units.
type ServiceManager struct {
	runner CommandRunner
}

// NewServiceManager creates a service manager over the given runner.
func NewServiceManager(runner CommandRunner) *ServiceManager {
	return &ServiceManager{runner: runner}
}

// Enable enables a unit to start at boot.
func (s *ServiceManager) Enable(ctx context.Context, unit string) error {
	if _, err := s.runner.Run(ctx, "systemctl", "enable", unit); err != nil {
		return fmt.Errorf("failed to enable %s: %w", unit, err)
	}
	return nil
}

// Disable removes a unit from boot startup.
func (s *ServiceManager) Disable(ctx context.Context, unit string) error {
	if _, err := s.runner.Run(ctx, "systemctl", "disable", unit); err != nil {
		return fmt.Errorf("failed to disable %s: %w", unit, err)
	}
	return nil
}

// Start starts a unit.
func (s *ServiceManager) Start(ctx context.Context, unit string) error {
	if _, err := s.runner.Run(ctx, "systemctl", "start", unit); err != nil {
		return fmt.Errorf("failed to start %s: %w", unit, err)
	}
	return nil
}

// Stop stops a unit.
func (s *ServiceManager) Stop(ctx context.Context, unit string) error {
	if _, err := s.runner.Run(ctx, "systemctl", "stop", unit); err != nil {
		return fmt.Errorf("failed to stop %s: %w", unit, err)
	}
	return nil
}

// Restart restarts a unit.
func (s *ServiceManager) Restart(ctx context.Context, unit string) error {
	if _, err := s.runner.Run(ctx, "systemctl", "restart", unit); err != nil {
		return fmt.Errorf("failed to restart %s: %w", unit, err)
	}
	return nil
}

// IsActive reports whether a unit is currently active.
func (s *ServiceManager) IsActive(ctx context.Context, unit string) (bool, error) {
	output, err := s.runner.Run(ctx, "systemctl", "is-active", unit)
	status := strings.TrimSpace(string(output))
	if err != nil {
		// is-active exits non-zero for inactive/failed units
		if status == "inactive" || status == "failed" || status == "unknown" {
			return false, nil
		}
		return false, err
	}
	return status == "active", nil
}
