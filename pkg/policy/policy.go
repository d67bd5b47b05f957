// Package policy implements the AccessCondition aggregate: named boolean
// expressions over claim attributes, stored with optimistic staged
// mutations and a minimal-diff persist.
package policy

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/dbscope"
	"github.com/boris-cremit/nebula/pkg/types"
)

// Service is the process-wide singleton over policy storage, shared across
// request tasks the way C7-C9's *Service contracts are specified.
type Service interface {
	List(ctx context.Context, tx *dbscope.Tx) ([]types.Policy, error)
	Get(ctx context.Context, tx *dbscope.Tx, id string) (*types.Policy, error)
	Register(ctx context.Context, tx *dbscope.Tx, name, expression string) (*types.Policy, error)
	Persist(ctx context.Context, tx *dbscope.Tx, p *types.Policy) error
}

// PostgresService is the Postgres-backed implementation of Service.
type PostgresService struct{}

func (PostgresService) List(ctx context.Context, tx *dbscope.Tx) ([]types.Policy, error) {
	rows, err := tx.Query(ctx, `SELECT id, name, expression FROM policy ORDER BY name`)
	if err != nil {
		return nil, apperr.Anyhow(fmt.Errorf("listing policies: %w", err))
	}
	defer rows.Close()

	var out []types.Policy
	for rows.Next() {
		var p types.Policy
		if err := rows.Scan(&p.ID, &p.Name, &p.Expression); err != nil {
			return nil, apperr.Anyhow(fmt.Errorf("scanning policy: %w", err))
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (PostgresService) Get(ctx context.Context, tx *dbscope.Tx, id string) (*types.Policy, error) {
	var p types.Policy
	err := tx.QueryRow(ctx, `SELECT id, name, expression FROM policy WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Expression)
	if err != nil {
		return nil, apperr.New(apperr.KindPolicyNotExists, "policy not found").WithField("id", id)
	}
	return &p, nil
}

// Register validates the expression, rejects duplicate names, and inserts
// a new Policy row.
func (PostgresService) Register(ctx context.Context, tx *dbscope.Tx, name, expression string) (*types.Policy, error) {
	if err := Validate(expression); err != nil {
		return nil, apperr.New(apperr.KindInvalidExpression, err.Error())
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM policy WHERE name = $1)`, name).Scan(&exists); err != nil {
		return nil, apperr.Anyhow(fmt.Errorf("checking policy name uniqueness: %w", err))
	}
	if exists {
		return nil, apperr.New(apperr.KindPolicyNameDuplicated, name)
	}

	id := ulid.Make().String()
	if _, err := tx.Exec(ctx, `INSERT INTO policy (id, name, expression) VALUES ($1, $2, $3)`, id, name, expression); err != nil {
		return nil, apperr.Anyhow(fmt.Errorf("inserting policy: %w", err))
	}

	return &types.Policy{ID: id, Name: name, Expression: expression}, nil
}

// Persist writes staged mutations: either a DELETE for a tombstoned
// aggregate, or a partial UPDATE of only the changed columns, re-checking
// name uniqueness under the same transaction when the name was staged.
func (PostgresService) Persist(ctx context.Context, tx *dbscope.Tx, p *types.Policy) error {
	if p.IsDeleted() {
		if _, err := tx.Exec(ctx, `DELETE FROM policy WHERE id = $1`, p.ID); err != nil {
			return apperr.Anyhow(fmt.Errorf("deleting policy: %w", err))
		}
		return nil
	}

	name, nameStaged := p.StagedName()
	expression, exprStaged := p.StagedExpression()

	if nameStaged {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM policy WHERE name = $1 AND id != $2)`, name, p.ID).Scan(&exists); err != nil {
			return apperr.Anyhow(fmt.Errorf("checking policy name uniqueness: %w", err))
		}
		if exists {
			return apperr.New(apperr.KindPolicyNameDuplicated, name)
		}
		if _, err := tx.Exec(ctx, `UPDATE policy SET name = $1, updated_at = now() WHERE id = $2`, name, p.ID); err != nil {
			return apperr.Anyhow(fmt.Errorf("updating policy name: %w", err))
		}
		p.Name = name
	}

	if exprStaged {
		if err := Validate(expression); err != nil {
			return apperr.New(apperr.KindInvalidExpression, err.Error())
		}
		if _, err := tx.Exec(ctx, `UPDATE policy SET expression = $1, updated_at = now() WHERE id = $2`, expression, p.ID); err != nil {
			return apperr.Anyhow(fmt.Errorf("updating policy expression: %w", err))
		}
		p.Expression = expression
	}

	return nil
}

// UseCase is the request-facing façade over Service, bound to one
// workspace's transaction.
type UseCase struct {
	service Service
}

func NewUseCase(service Service) *UseCase { return &UseCase{service: service} }

func (u *UseCase) List(ctx context.Context, tx *dbscope.Tx) ([]types.Policy, error) {
	return u.service.List(ctx, tx)
}

func (u *UseCase) Get(ctx context.Context, tx *dbscope.Tx, id string) (*types.Policy, error) {
	return u.service.Get(ctx, tx, id)
}

func (u *UseCase) Register(ctx context.Context, tx *dbscope.Tx, name, expression string) (*types.Policy, error) {
	return u.service.Register(ctx, tx, name, expression)
}

// UpdateName stages a name change and persists it.
func (u *UseCase) UpdateName(ctx context.Context, tx *dbscope.Tx, id, newName string) error {
	p, err := u.service.Get(ctx, tx, id)
	if err != nil {
		return err
	}
	p.StageUpdateName(newName)
	return u.service.Persist(ctx, tx, p)
}

// UpdateExpression stages an expression change and persists it.
func (u *UseCase) UpdateExpression(ctx context.Context, tx *dbscope.Tx, id, newExpression string) error {
	p, err := u.service.Get(ctx, tx, id)
	if err != nil {
		return err
	}
	p.StageUpdateExpression(newExpression)
	return u.service.Persist(ctx, tx, p)
}

// Delete tombstones the aggregate and persists the deletion.
func (u *UseCase) Delete(ctx context.Context, tx *dbscope.Tx, id string) error {
	p, err := u.service.Get(ctx, tx, id)
	if err != nil {
		return err
	}
	p.StageDelete()
	return u.service.Persist(ctx, tx, p)
}
