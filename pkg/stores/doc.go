// Package stores provides the durable state layer backing the provisioning
// engine: the rollback action ledger, run checkpoints, run records and the
// audit log, all in one embedded SQLite database so a crashed run can be
// inspected and resumed without external services.
package stores
