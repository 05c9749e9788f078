// Package system wraps the host commands the provisioning modules share:
// apt package management, systemd unit control, user management and file
// backup/restore helpers.
//
// All command execution flows through the CommandRunner interface so tests
// can substitute a fake. AptManager owns the single process-wide
// package-manager mutex: concurrent modules in the same batch serialize on
// it instead of racing dpkg's own lock.
package system
