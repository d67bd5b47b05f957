// Package migrations embeds the SQL migration sets applied by
// pkg/migrate: one for the control schema (workspace registry) and one for
// each per-workspace schema.
package migrations

import "embed"

//go:embed control/*.sql
var ControlFS embed.FS

//go:embed workspace/*.sql
var WorkspaceFS embed.FS
