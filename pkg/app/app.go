// Package app composes the root Application: every process-wide service,
// the jwks_discovery handle, and the per-workspace facade construction
// used by HTTP handlers.
package app

import (
	"context"
	"fmt"

	"github.com/boris-cremit/nebula/internal/config"
	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/authority"
	"github.com/boris-cremit/nebula/pkg/dbscope"
	"github.com/boris-cremit/nebula/pkg/jwks"
	"github.com/boris-cremit/nebula/pkg/pairing"
	"github.com/boris-cremit/nebula/pkg/parameter"
	"github.com/boris-cremit/nebula/pkg/path"
	"github.com/boris-cremit/nebula/pkg/policy"
	"github.com/boris-cremit/nebula/pkg/saml"
	"github.com/boris-cremit/nebula/pkg/secret"
	"github.com/boris-cremit/nebula/pkg/security"
	"github.com/boris-cremit/nebula/pkg/token"
)

// Application owns every process-wide service and the jwks_discovery
// handle. WithWorkspace returns a per-request facade bound to a workspace
// name; the facade borrows from Application rather than re-constructing
// services.
type Application struct {
	scope     *dbscope.Scope
	Discovery jwks.Discovery
	Minter    *token.Minter
	SAML      *saml.Connector

	workspaceService authority.WorkspaceService
	identityService  authority.MachineIdentityService
	pathService      path.Service
	policyService    policy.Service
	secretService    secret.Service
	parameterService parameter.Service

	workspaceMode       config.WorkspaceMode
	staticWorkspaceName string
}

// Services bundles the process-wide service implementations Application
// composes use-cases from. Kept separate from Application's constructor
// signature so tests can substitute in-memory fakes for any subset.
type Services struct {
	Workspace       authority.WorkspaceService
	MachineIdentity authority.MachineIdentityService
	Path            path.Service
	Policy          policy.Service
	Secret          secret.Service
	Parameter       parameter.Service
}

// New composes the root Application.
func New(cfg *config.Config, scope *dbscope.Scope, discovery jwks.Discovery, minter *token.Minter, samlConnector *saml.Connector, services Services) *Application {
	return &Application{
		scope:               scope,
		Discovery:           discovery,
		Minter:              minter,
		SAML:                samlConnector,
		workspaceService:    services.Workspace,
		identityService:     services.MachineIdentity,
		pathService:         services.Path,
		policyService:       services.Policy,
		secretService:       services.Secret,
		parameterService:    services.Parameter,
		workspaceMode:       cfg.Workspace.Mode,
		staticWorkspaceName: cfg.Workspace.Name,
	}
}

// WithWorkspace resolves a workspace facade. In static mode the
// configured workspace name always wins over the caller's requested
// name, since the deployment backs exactly one tenant.
func (a *Application) WithWorkspace(requestedName string) *WorkspaceFacade {
	name := requestedName
	if a.workspaceMode == config.WorkspaceModeStatic {
		name = a.staticWorkspaceName
	}
	return &WorkspaceFacade{app: a, workspaceName: name}
}

// EnsureWorkspace resolves a workspace facade the same way WithWorkspace
// does, and in dynamic mode additionally materializes the workspace (and
// its default parameter) on first access: a claim naming a workspace that
// has never been seen before creates it rather than failing. Static mode
// never auto-creates; its single workspace is provisioned once at startup
// by InitStaticWorkspace.
func (a *Application) EnsureWorkspace(ctx context.Context, requestedName string) (*WorkspaceFacade, error) {
	facade := a.WithWorkspace(requestedName)
	if a.workspaceMode == config.WorkspaceModeStatic {
		return facade, nil
	}

	controlTx, err := facade.BeginControl(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := facade.Authority().CreateWorkspace(ctx, controlTx, facade.workspaceName); err != nil {
		if !apperr.Is(err, apperr.KindWorkspaceNameConflicted) {
			_ = controlTx.Rollback(ctx)
			return nil, err
		}
		_ = controlTx.Rollback(ctx)
	} else if err := controlTx.Commit(ctx); err != nil {
		return nil, err
	}

	tx, err := facade.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if err := facade.Parameter().CreateWorkspaceDefault(ctx, tx); err != nil {
		if !apperr.Is(err, apperr.KindParameterAlreadyCreated) {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		_ = tx.Rollback(ctx)
		return facade, nil
	}
	return facade, tx.Commit(ctx)
}

// WorkspaceFacade exposes secret, parameter, policy, path, and authority
// use-cases bound to one workspace name.
type WorkspaceFacade struct {
	app           *Application
	workspaceName string
}

// Name returns the workspace this facade is bound to.
func (f *WorkspaceFacade) Name() string { return f.workspaceName }

// Begin opens a workspace-scoped transaction for this facade's workspace.
func (f *WorkspaceFacade) Begin(ctx context.Context) (*dbscope.Tx, error) {
	return f.app.scope.BeginWithWorkspaceScope(ctx, f.workspaceName)
}

// BeginControl opens a control-schema transaction, used for operations
// against the workspace registry itself (creation, master-secret lookup).
func (f *WorkspaceFacade) BeginControl(ctx context.Context) (*dbscope.Tx, error) {
	return f.app.scope.Begin(ctx)
}

func (f *WorkspaceFacade) Path() *path.UseCase {
	return path.NewUseCase(f.app.pathService, f.app.policyService)
}

func (f *WorkspaceFacade) Policy() *policy.UseCase {
	return policy.NewUseCase(f.app.policyService)
}

func (f *WorkspaceFacade) Parameter() *parameter.UseCase {
	return parameter.NewUseCase(f.app.parameterService, f.app.pathService, f.app.policyService)
}

func (f *WorkspaceFacade) Authority() *authority.UseCase {
	return authority.NewUseCase(f.app.workspaceService, f.app.identityService, f.app.Minter)
}

// Secret builds a secret use-case sealed with this workspace's ABE master
// secret, fetched from the control schema. Unlike the other use-cases,
// this one cannot be built from process-wide state alone: the sealing key
// is per-workspace.
func (f *WorkspaceFacade) Secret(ctx context.Context) (*secret.UseCase, error) {
	masterSecret, err := f.masterSecret(ctx)
	if err != nil {
		return nil, err
	}
	sealer, err := security.NewSealerFromMasterSecret(masterSecret)
	if err != nil {
		return nil, apperr.Anyhow(fmt.Errorf("deriving sealer from workspace master secret: %w", err))
	}
	return secret.NewUseCase(f.app.secretService, f.app.pathService, f.app.policyService, sealer), nil
}

func (f *WorkspaceFacade) masterSecret(ctx context.Context) (pairing.Gt, error) {
	tx, err := f.BeginControl(ctx)
	if err != nil {
		return pairing.Gt{}, err
	}
	defer tx.Rollback(ctx)

	ws, err := f.app.workspaceService.Get(ctx, tx, f.workspaceName)
	if err != nil {
		return pairing.Gt{}, err
	}

	gt, err := pairing.GtFromBytes(pairing.DefaultOrder(), ws.MasterSecret)
	if err != nil {
		return pairing.Gt{}, apperr.Anyhow(fmt.Errorf("decoding workspace master secret: %w", err))
	}
	return gt, nil
}

// InitStaticWorkspace creates the single configured workspace (idempotent
// on conflict) and its default parameter, matching the original's
// "Ok(_) | Err(WorkspaceNameConflicted)" / "Ok(_) | Err(ParameterAlreadyCreated)"
// swallow-on-restart semantics. Only meaningful in static mode.
func (a *Application) InitStaticWorkspace(ctx context.Context) error {
	facade := a.WithWorkspace(a.staticWorkspaceName)

	controlTx, err := facade.BeginControl(ctx)
	if err != nil {
		return err
	}
	if _, err := facade.Authority().CreateWorkspace(ctx, controlTx, a.staticWorkspaceName); err != nil {
		if !apperr.Is(err, apperr.KindWorkspaceNameConflicted) {
			_ = controlTx.Rollback(ctx)
			return err
		}
	}
	if err := controlTx.Commit(ctx); err != nil {
		return err
	}

	tx, err := facade.Begin(ctx)
	if err != nil {
		return err
	}
	if err := facade.Parameter().CreateWorkspaceDefault(ctx, tx); err != nil {
		if !apperr.Is(err, apperr.KindParameterAlreadyCreated) {
			_ = tx.Rollback(ctx)
			return err
		}
	}
	return tx.Commit(ctx)
}
