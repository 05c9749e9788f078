package modules

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yunaamelia/debian-vps-workstation/pkg/engine"
	"github.com/yunaamelia/debian-vps-workstation/pkg/rollback"
	"github.com/yunaamelia/debian-vps-workstation/pkg/system"
)

// SSHHardeningName is the registry key of the SSH hardening module.
const SSHHardeningName = "ssh-hardening"

const sshdConfigPath = "/etc/ssh/sshd_config"

// SSHHardening rewrites sshd_config with hardened settings and restarts the
// daemon. It must be scheduled force_sequential: a broken sshd while other
// modules mutate the host can lock the operator out.
type SSHHardening struct {
	configPath      string
	unit            string
	permitRootLogin bool
	passwordAuth    bool
	maxAuthTries    string
}

// NewSSHHardening constructs the module from its options.
func NewSSHHardening(options map[string]interface{}) (engine.Module, error) {
	permitRoot, err := optBool(options, "permit_root_login", false)
	if err != nil {
		return nil, err
	}
	passwordAuth, err := optBool(options, "password_auth", false)
	if err != nil {
		return nil, err
	}
	maxAuthTries, err := optString(options, "max_auth_tries", "3")
	if err != nil {
		return nil, err
	}
	configPath, err := optString(options, "config_path", sshdConfigPath)
	if err != nil {
		return nil, err
	}
	unit, err := optString(options, "unit", "ssh")
	if err != nil {
		return nil, err
	}
	return &SSHHardening{
		configPath:      configPath,
		unit:            unit,
		permitRootLogin: permitRoot,
		passwordAuth:    passwordAuth,
		maxAuthTries:    maxAuthTries,
	}, nil
}

// Name returns the module name.
func (m *SSHHardening) Name() string { return SSHHardeningName }

// Validate checks that sshd is installed and its config exists.
func (m *SSHHardening) Validate(ctx context.Context, rc *engine.RunContext) (bool, error) {
	if _, err := os.Stat(m.configPath); err != nil {
		return false, fmt.Errorf("sshd config not found at %s: %w", m.configPath, err)
	}
	return true, nil
}

// Configure backs up sshd_config, writes the hardened settings and restarts
// the daemon. The backup restore and a follow-up restart are recorded first
// so rollback reinstates the previous remote-access behavior.
func (m *SSHHardening) Configure(ctx context.Context, rc *engine.RunContext) error {
	backupPath, err := system.BackupFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to back up sshd config: %w", err)
	}

	if err := rc.Ledger.Record(ctx, SSHHardeningName, rollback.KindFileRestore,
		rollback.FileRestorePayload{BackupPath: backupPath, DestPath: m.configPath}); err != nil {
		return err
	}
	if err := rc.Ledger.Record(ctx, SSHHardeningName, rollback.KindRunCommand,
		rollback.RunCommandPayload{Argv: []string{"systemctl", "restart", m.unit}}); err != nil {
		return err
	}

	if err := os.WriteFile(m.configPath, []byte(m.render()), 0o644); err != nil {
		return fmt.Errorf("failed to write sshd config: %w", err)
	}

	// Syntax-check before restarting so a bad render never takes sshd down.
	if out, err := rc.Runner.Run(ctx, "sshd", "-t", "-f", m.configPath); err != nil {
		return fmt.Errorf("sshd rejected the new config: %w (%s)", err, strings.TrimSpace(string(out)))
	}

	return rc.Services.Restart(ctx, m.unit)
}

// Verify checks that sshd is running with the new configuration.
func (m *SSHHardening) Verify(ctx context.Context, rc *engine.RunContext) (bool, error) {
	active, err := rc.Services.IsActive(ctx, m.unit)
	if err != nil {
		return false, err
	}
	if !active {
		return false, fmt.Errorf("unit %s is not active", m.unit)
	}
	return true, nil
}

// render produces the hardened sshd configuration.
func (m *SSHHardening) render() string {
	yesNo := func(v bool) string {
		if v {
			return "yes"
		}
		return "no"
	}

	var b strings.Builder
	b.WriteString("# Managed by workstation; manual edits will be overwritten.\n")
	fmt.Fprintf(&b, "PermitRootLogin %s\n", yesNo(m.permitRootLogin))
	fmt.Fprintf(&b, "PasswordAuthentication %s\n", yesNo(m.passwordAuth))
	fmt.Fprintf(&b, "MaxAuthTries %s\n", m.maxAuthTries)
	b.WriteString("PubkeyAuthentication yes\n")
	b.WriteString("X11Forwarding no\n")
	b.WriteString("ClientAliveInterval 300\n")
	b.WriteString("ClientAliveCountMax 2\n")
	b.WriteString("Include /etc/ssh/sshd_config.d/*.conf\n")
	return b.String()
}
