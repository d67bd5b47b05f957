// Package dbscope implements the workspace-scoped transaction contract: a
// database transaction whose first statement binds every subsequent
// statement to a tenant's Postgres schema.
package dbscope

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boris-cremit/nebula/pkg/apperr"
)

// workspaceNamePattern mirrors the Workspace.Name validation rule so a
// malformed name can never reach an unescaped "SET search_path" statement.
var workspaceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Pool is the subset of pgxpool.Pool this package depends on, satisfied by
// *pgxpool.Pool and by fakes in tests.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Scope opens workspace-scoped and control-schema transactions against a
// connection pool.
type Scope struct {
	pool Pool
}

// New wraps a pgxpool.Pool for scoped transaction use; NewWithPool takes
// any Pool implementation.
func New(pool *pgxpool.Pool) *Scope {
	return &Scope{pool: pool}
}

// NewWithPool is the test seam: construct a Scope over any Pool
// implementation, e.g. an in-memory fake.
func NewWithPool(pool Pool) *Scope {
	return &Scope{pool: pool}
}

// SchemaName computes the Postgres schema for a workspace name.
func SchemaName(workspaceName string) string {
	return "workspace_" + workspaceName
}

// ValidateWorkspaceName reports whether name matches the Workspace.name
// invariant, the single source of truth shared with BeginWithWorkspaceScope.
func ValidateWorkspaceName(name string) bool {
	return workspaceNamePattern.MatchString(name)
}

// Tx is a transaction bound to a workspace schema (or the control schema).
// Every query issued against Tx after construction runs with that schema
// resolved first in the search path.
type Tx struct {
	pgx.Tx
	workspaceName string // empty for control-schema transactions
}

// WorkspaceName returns the tenant name this transaction is scoped to, or
// "" for a control-schema transaction opened via Begin.
func (t *Tx) WorkspaceName() string { return t.workspaceName }

// BeginWithWorkspaceScope begins a transaction and, as its first statement,
// sets the active schema to workspace_<name>. No query issued afterward on
// this Tx may see rows outside that schema, satisfying the "never query a
// workspace-scoped table outside a scoped transaction" invariant.
func (s *Scope) BeginWithWorkspaceScope(ctx context.Context, workspaceName string) (*Tx, error) {
	if !workspaceNamePattern.MatchString(workspaceName) {
		return nil, apperr.Newf(apperr.KindInvalidWorkspaceName, "invalid workspace name %q", workspaceName)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Anyhow(fmt.Errorf("beginning transaction: %w", err))
	}

	schema := SchemaName(workspaceName)
	if _, err := tx.Exec(ctx, fmt.Sprintf(`SET search_path TO "%s", public`, schema)); err != nil {
		_ = tx.Rollback(ctx)
		return nil, apperr.Anyhow(fmt.Errorf("setting search_path to %s: %w", schema, err))
	}

	return &Tx{Tx: tx, workspaceName: workspaceName}, nil
}

// Begin begins a transaction against the default (control) schema, used by
// workspace creation and the dynamic migration orchestrator.
func (s *Scope) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Anyhow(fmt.Errorf("beginning transaction: %w", err))
	}
	return &Tx{Tx: tx}, nil
}

// Commit commits the underlying transaction, translating failures into the
// Anyhow catch-all.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.Tx.Commit(ctx); err != nil {
		return apperr.Anyhow(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// Rollback rolls back the underlying transaction. Safe to call after a
// Commit failure or on any error path before returning.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.Tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return apperr.Anyhow(fmt.Errorf("rolling back transaction: %w", err))
	}
	return nil
}
