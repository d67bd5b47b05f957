// Package dbscope supplies the scoped transactions that the use-case
// packages (pkg/path, pkg/policy, pkg/secret, pkg/parameter,
// pkg/authority) run their queries in. The *Tx is opened by their callers
// (pkg/app and internal/httpapi): BeginWithWorkspaceScope for workspace
// data, Begin for the control schema. pkg/migrate uses only SchemaName.
package dbscope
