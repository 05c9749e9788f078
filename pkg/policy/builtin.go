package policy

// BuiltinPolicies returns the rules shipped with the binary.
func BuiltinPolicies() []Policy {
	return []Policy{
		mandatoryEnabledPolicy(),
		remoteAccessIsolationPolicy(),
		workerBoundsPolicy(),
	}
}

// mandatoryEnabledPolicy rejects plans where a mandatory module is disabled.
func mandatoryEnabledPolicy() Policy {
	return Policy{
		Name:        "mandatory-enabled",
		Description: "A module marked mandatory must also be enabled; a disabled mandatory module makes the run outcome meaningless",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package workstation.policies.mandatory

import rego.v1

deny contains violation if {
	some module in input.modules
	module.mandatory
	not module.enabled
	violation := {
		"message": sprintf("mandatory module %q is disabled", [module.name]),
		"severity": "error",
		"module": module.name,
	}
}

deny contains violation if {
	some module in input.modules
	module.mandatory
	module.enabled
	count([b | some b in input.batches; some m in b.members; m == module.name]) == 0
	violation := {
		"message": sprintf("mandatory module %q is missing from the scheduled plan", [module.name]),
		"severity": "error",
		"module": module.name,
	}
}`,
	}
}

// remoteAccessIsolationPolicy requires modules that reconfigure remote
// access to run alone in their batch, so a misstep never races with other
// host changes.
func remoteAccessIsolationPolicy() Policy {
	return Policy{
		Name:        "remote-access-isolation",
		Description: "Modules that touch remote access (sshd and friends) must be force_sequential",
		Severity:    SeverityCritical,
		Enabled:     true,
		Rego: `package workstation.policies.remote_access

import rego.v1

deny contains violation if {
	some module in input.modules
	module.enabled
	module.options.touches_remote_access == true
	not module.force_sequential
	violation := {
		"message": sprintf("module %q reconfigures remote access but is not force_sequential", [module.name]),
		"severity": "critical",
		"module": module.name,
	}
}`,
	}
}

// workerBoundsPolicy warns about oversized worker pools on a single host.
func workerBoundsPolicy() Policy {
	return Policy{
		Name:        "worker-bounds",
		Description: "Warns when the parallel pool is larger than a single host can usefully exploit",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package workstation.policies.workers

import rego.v1

deny contains violation if {
	input.max_workers > 16
	violation := {
		"message": sprintf("max_workers %d is unusually high for a single host", [input.max_workers]),
		"severity": "warning",
	}
}`,
	}
}
