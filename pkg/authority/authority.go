// Package authority implements C10: workspace lifecycle against the
// control schema, and machine-identity issuance within a workspace
// schema, minting a short-lived token via pkg/token on success.
package authority

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/dbscope"
	"github.com/boris-cremit/nebula/pkg/pairing"
	"github.com/boris-cremit/nebula/pkg/token"
	"github.com/boris-cremit/nebula/pkg/types"
)

// WorkspaceService stores Workspace rows in the control schema.
type WorkspaceService interface {
	Get(ctx context.Context, tx *dbscope.Tx, name string) (*types.Workspace, error)
	Exists(ctx context.Context, tx *dbscope.Tx, name string) (bool, error)
	Insert(ctx context.Context, tx *dbscope.Tx, ws *types.Workspace) error
}

// PostgresWorkspaceService is the Postgres-backed implementation.
type PostgresWorkspaceService struct{}

func (PostgresWorkspaceService) Get(ctx context.Context, tx *dbscope.Tx, name string) (*types.Workspace, error) {
	var ws types.Workspace
	err := tx.QueryRow(ctx, `SELECT id, name, deleted, master_secret FROM control.workspace WHERE name = $1`, name).
		Scan(&ws.ID, &ws.Name, &ws.Deleted, &ws.MasterSecret)
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidWorkspaceName, name)
	}
	return &ws, nil
}

func (PostgresWorkspaceService) Exists(ctx context.Context, tx *dbscope.Tx, name string) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM control.workspace WHERE name = $1)`, name).Scan(&exists); err != nil {
		return false, apperr.Anyhow(fmt.Errorf("checking workspace existence: %w", err))
	}
	return exists, nil
}

func (PostgresWorkspaceService) Insert(ctx context.Context, tx *dbscope.Tx, ws *types.Workspace) error {
	if _, err := tx.Exec(ctx, `INSERT INTO control.workspace (id, name, master_secret) VALUES ($1, $2, $3)`,
		ws.ID, ws.Name, ws.MasterSecret); err != nil {
		return apperr.Anyhow(fmt.Errorf("inserting workspace: %w", err))
	}
	return nil
}

// MachineIdentityService stores MachineIdentity rows within a workspace
// schema, an append-only log with no state machine.
type MachineIdentityService interface {
	Insert(ctx context.Context, tx *dbscope.Tx, identity *types.MachineIdentity) error
}

// PostgresMachineIdentityService is the Postgres-backed implementation.
type PostgresMachineIdentityService struct{}

func (PostgresMachineIdentityService) Insert(ctx context.Context, tx *dbscope.Tx, identity *types.MachineIdentity) error {
	if _, err := tx.Exec(ctx, `INSERT INTO machine_identity (id, gid) VALUES ($1, $2)`, identity.ID, identity.Gid); err != nil {
		return apperr.Anyhow(fmt.Errorf("inserting machine identity: %w", err))
	}
	return nil
}

// UseCase implements AuthorityUseCase: workspace creation and
// machine-identity issuance.
type UseCase struct {
	workspaceService WorkspaceService
	identityService  MachineIdentityService
	minter           *token.Minter
}

func NewUseCase(workspaceService WorkspaceService, identityService MachineIdentityService, minter *token.Minter) *UseCase {
	return &UseCase{workspaceService: workspaceService, identityService: identityService, minter: minter}
}

// CreateWorkspace registers a new workspace in the control schema. A
// conflicting name is returned as WorkspaceNameConflicted, matching the
// original's `Ok(_) | Err(WorkspaceNameConflicted)` pattern: both branches
// are surfaced to the caller, which decides whether to swallow the conflict.
func (u *UseCase) CreateWorkspace(ctx context.Context, tx *dbscope.Tx, name string) (*types.Workspace, error) {
	if err := validateWorkspaceName(name); err != nil {
		return nil, err
	}

	exists, err := u.workspaceService.Exists(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.New(apperr.KindWorkspaceNameConflicted, name)
	}

	masterSecret, err := pairing.GtRandom(pairing.DefaultOrder())
	if err != nil {
		return nil, apperr.Anyhow(fmt.Errorf("generating workspace master secret: %w", err))
	}

	ws := &types.Workspace{ID: ulid.Make().String(), Name: name, MasterSecret: masterSecret.ToBytes()}
	if err := u.workspaceService.Insert(ctx, tx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// IssueMachineIdentity records a new machine-identity row in the
// workspace schema and mints a short-lived token for claim.
func (u *UseCase) IssueMachineIdentity(ctx context.Context, tx *dbscope.Tx, claim types.NebulaClaim) (string, error) {
	if err := u.identityService.Insert(ctx, tx, &types.MachineIdentity{
		ID:  ulid.Make().String(),
		Gid: claim.Gid,
	}); err != nil {
		return "", err
	}

	compact, err := u.minter.Mint(claim)
	if err != nil {
		return "", err
	}
	return compact, nil
}

func validateWorkspaceName(name string) error {
	if !dbscope.ValidateWorkspaceName(name) {
		return apperr.New(apperr.KindInvalidWorkspaceName, name)
	}
	return nil
}
