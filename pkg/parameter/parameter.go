// Package parameter implements the Parameter aggregate: an unencrypted,
// path-addressed key/value record used for workspace configuration that
// does not need confidentiality. Unlike Secret, reads carry no policy
// check beyond workspace scoping; only writes are policy-gated.
package parameter

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/dbscope"
	"github.com/boris-cremit/nebula/pkg/path"
	"github.com/boris-cremit/nebula/pkg/policy"
	"github.com/boris-cremit/nebula/pkg/types"
)

// defaultKey and defaultPath are the workspace-default parameter's
// coordinates, created once per workspace alongside its Workspace row.
const (
	defaultKey  = "default"
	defaultPath = "/"
)

// Service is the process-wide singleton over parameter storage.
type Service interface {
	GetAll(ctx context.Context, tx *dbscope.Tx) ([]types.Parameter, error)
	Get(ctx context.Context, tx *dbscope.Tx, key string) (*types.Parameter, error)
	Exists(ctx context.Context, tx *dbscope.Tx, key string) (bool, error)
	Insert(ctx context.Context, tx *dbscope.Tx, p *types.Parameter) error
	UpdateValue(ctx context.Context, tx *dbscope.Tx, id, value string) error
	Delete(ctx context.Context, tx *dbscope.Tx, id string) error
}

// PostgresService is the Postgres-backed implementation of Service.
type PostgresService struct{}

func (PostgresService) GetAll(ctx context.Context, tx *dbscope.Tx) ([]types.Parameter, error) {
	rows, err := tx.Query(ctx, `SELECT id, key, value, path, created_at, updated_at FROM parameter ORDER BY key`)
	if err != nil {
		return nil, apperr.Anyhow(fmt.Errorf("listing parameters: %w", err))
	}
	defer rows.Close()

	var out []types.Parameter
	for rows.Next() {
		var p types.Parameter
		if err := rows.Scan(&p.ID, &p.Key, &p.Value, &p.Path, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apperr.Anyhow(fmt.Errorf("scanning parameter: %w", err))
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (PostgresService) Get(ctx context.Context, tx *dbscope.Tx, key string) (*types.Parameter, error) {
	var p types.Parameter
	err := tx.QueryRow(ctx, `SELECT id, key, value, path, created_at, updated_at FROM parameter WHERE key = $1`, key).
		Scan(&p.ID, &p.Key, &p.Value, &p.Path, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, apperr.New(apperr.KindParameterNotExists, key)
	}
	return &p, nil
}

func (PostgresService) Exists(ctx context.Context, tx *dbscope.Tx, key string) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM parameter WHERE key = $1)`, key).Scan(&exists); err != nil {
		return false, apperr.Anyhow(fmt.Errorf("checking parameter existence: %w", err))
	}
	return exists, nil
}

func (PostgresService) Insert(ctx context.Context, tx *dbscope.Tx, p *types.Parameter) error {
	if _, err := tx.Exec(ctx, `INSERT INTO parameter (id, key, value, path) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Key, p.Value, p.Path); err != nil {
		return apperr.Anyhow(fmt.Errorf("inserting parameter: %w", err))
	}
	return nil
}

func (PostgresService) UpdateValue(ctx context.Context, tx *dbscope.Tx, id, value string) error {
	if _, err := tx.Exec(ctx, `UPDATE parameter SET value = $1, updated_at = now() WHERE id = $2`, value, id); err != nil {
		return apperr.Anyhow(fmt.Errorf("updating parameter: %w", err))
	}
	return nil
}

func (PostgresService) Delete(ctx context.Context, tx *dbscope.Tx, id string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM parameter WHERE id = $1`, id); err != nil {
		return apperr.Anyhow(fmt.Errorf("deleting parameter: %w", err))
	}
	return nil
}

// UseCase implements ParameterUseCase.
type UseCase struct {
	service       Service
	pathService   path.Service
	policyService policy.Service
}

func NewUseCase(service Service, pathService path.Service, policyService policy.Service) *UseCase {
	return &UseCase{service: service, pathService: pathService, policyService: policyService}
}

func (u *UseCase) GetAll(ctx context.Context, tx *dbscope.Tx) ([]types.Parameter, error) {
	return u.service.GetAll(ctx, tx)
}

func (u *UseCase) Get(ctx context.Context, tx *dbscope.Tx, key string) (*types.Parameter, error) {
	return u.service.Get(ctx, tx, key)
}

// CreateWorkspaceDefault creates the workspace's default parameter once.
// It returns ParameterAlreadyCreated when the default exists; the caller
// (workspace init) swallows that error, matching the original's
// `Ok(_) | Err(ParameterAlreadyCreated(_))` branch.
func (u *UseCase) CreateWorkspaceDefault(ctx context.Context, tx *dbscope.Tx) error {
	exists, err := u.service.Exists(ctx, tx, defaultKey)
	if err != nil {
		return err
	}
	if exists {
		return apperr.New(apperr.KindParameterAlreadyCreated, defaultKey)
	}
	return u.service.Insert(ctx, tx, &types.Parameter{
		ID:    ulid.Make().String(),
		Key:   defaultKey,
		Value: "",
		Path:  defaultPath,
	})
}

// Set requires Admin or satisfaction of the target path's policies, then
// creates or overwrites the parameter's value.
func (u *UseCase) Set(ctx context.Context, tx *dbscope.Tx, key, value, pathStr string, claim types.NebulaClaim) error {
	if err := path.Authorize(ctx, tx, u.pathService, u.policyService, pathStr, claim); err != nil {
		return err
	}

	existing, err := u.service.Get(ctx, tx, key)
	if err != nil {
		if !apperr.Is(err, apperr.KindParameterNotExists) {
			return err
		}
		return u.service.Insert(ctx, tx, &types.Parameter{
			ID:    ulid.Make().String(),
			Key:   key,
			Value: value,
			Path:  pathStr,
		})
	}
	return u.service.UpdateValue(ctx, tx, existing.ID, value)
}

// Delete requires Admin or satisfaction of the target path's policies.
func (u *UseCase) Delete(ctx context.Context, tx *dbscope.Tx, key string, claim types.NebulaClaim) error {
	p, err := u.service.Get(ctx, tx, key)
	if err != nil {
		return err
	}
	if err := path.Authorize(ctx, tx, u.pathService, u.policyService, p.Path, claim); err != nil {
		return err
	}
	return u.service.Delete(ctx, tx, p.ID)
}
