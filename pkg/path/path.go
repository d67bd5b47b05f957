// Package path implements the hierarchical namespace tree: registration,
// update, and deletion of Path aggregates under the parent-existence and
// in-use invariants.
package path

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/dbscope"
	"github.com/boris-cremit/nebula/pkg/policy"
	"github.com/boris-cremit/nebula/pkg/types"
)

// Service is the process-wide singleton over path storage.
type Service interface {
	GetAll(ctx context.Context, tx *dbscope.Tx) ([]types.Path, error)
	Get(ctx context.Context, tx *dbscope.Tx, p string) (*types.Path, error)
	Exists(ctx context.Context, tx *dbscope.Tx, p string) (bool, error)
	CountChildPaths(ctx context.Context, tx *dbscope.Tx, p string) (int, error)
	CountChildSecrets(ctx context.Context, tx *dbscope.Tx, p string) (int, error)
	Insert(ctx context.Context, tx *dbscope.Tx, p *types.Path) error
	UpdatePath(ctx context.Context, tx *dbscope.Tx, id, newPath string) error
	ReplacePolicies(ctx context.Context, tx *dbscope.Tx, id string, policyIDs []string) error
	Delete(ctx context.Context, tx *dbscope.Tx, id string) error
}

// PostgresService is the Postgres-backed implementation of Service.
type PostgresService struct{}

func (PostgresService) GetAll(ctx context.Context, tx *dbscope.Tx) ([]types.Path, error) {
	rows, err := tx.Query(ctx, `SELECT id, path, created_at, updated_at FROM path ORDER BY path`)
	if err != nil {
		return nil, apperr.Anyhow(fmt.Errorf("listing paths: %w", err))
	}
	defer rows.Close()

	var out []types.Path
	for rows.Next() {
		var p types.Path
		if err := rows.Scan(&p.ID, &p.Path, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apperr.Anyhow(fmt.Errorf("scanning path: %w", err))
		}
		policies, err := loadAppliedPolicies(ctx, tx, p.ID)
		if err != nil {
			return nil, err
		}
		p.AppliedPolicies = policies
		out = append(out, p)
	}
	return out, rows.Err()
}

func (PostgresService) Get(ctx context.Context, tx *dbscope.Tx, pathStr string) (*types.Path, error) {
	var p types.Path
	err := tx.QueryRow(ctx, `SELECT id, path, created_at, updated_at FROM path WHERE path = $1`, pathStr).
		Scan(&p.ID, &p.Path, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, apperr.New(apperr.KindPathNotExists, pathStr).WithField("entered_path", pathStr)
	}
	policies, err := loadAppliedPolicies(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}
	p.AppliedPolicies = policies
	return &p, nil
}

func (PostgresService) Exists(ctx context.Context, tx *dbscope.Tx, pathStr string) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM path WHERE path = $1)`, pathStr).Scan(&exists); err != nil {
		return false, apperr.Anyhow(fmt.Errorf("checking path existence: %w", err))
	}
	return exists, nil
}

func (PostgresService) CountChildPaths(ctx context.Context, tx *dbscope.Tx, pathStr string) (int, error) {
	var count int
	prefix := childPrefix(pathStr)
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM path WHERE path LIKE $1`, prefix+"%").Scan(&count); err != nil {
		return 0, apperr.Anyhow(fmt.Errorf("counting child paths: %w", err))
	}
	return count, nil
}

func (PostgresService) CountChildSecrets(ctx context.Context, tx *dbscope.Tx, pathStr string) (int, error) {
	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM secret_metadata WHERE path = $1`, pathStr).Scan(&count); err != nil {
		return 0, apperr.Anyhow(fmt.Errorf("counting child secrets: %w", err))
	}
	return count, nil
}

func (PostgresService) Insert(ctx context.Context, tx *dbscope.Tx, p *types.Path) error {
	if _, err := tx.Exec(ctx, `INSERT INTO path (id, path) VALUES ($1, $2)`, p.ID, p.Path); err != nil {
		return apperr.Anyhow(fmt.Errorf("inserting path: %w", err))
	}
	for _, ap := range p.AppliedPolicies {
		if _, err := tx.Exec(ctx,
			`INSERT INTO applied_path_policy (id, path_id, policy_id) VALUES ($1, $2, $3)`,
			ulid.Make().String(), p.ID, ap.PolicyID); err != nil {
			return apperr.Anyhow(fmt.Errorf("applying policy to path: %w", err))
		}
	}
	return nil
}

func (PostgresService) UpdatePath(ctx context.Context, tx *dbscope.Tx, id, newPath string) error {
	if _, err := tx.Exec(ctx, `UPDATE path SET path = $1, updated_at = now() WHERE id = $2`, newPath, id); err != nil {
		return apperr.Anyhow(fmt.Errorf("updating path: %w", err))
	}
	return nil
}

func (PostgresService) ReplacePolicies(ctx context.Context, tx *dbscope.Tx, id string, policyIDs []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM applied_path_policy WHERE path_id = $1`, id); err != nil {
		return apperr.Anyhow(fmt.Errorf("clearing applied path policies: %w", err))
	}
	for _, pid := range policyIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO applied_path_policy (id, path_id, policy_id) VALUES ($1, $2, $3)`,
			ulid.Make().String(), id, pid); err != nil {
			return apperr.Anyhow(fmt.Errorf("applying policy to path: %w", err))
		}
	}
	return nil
}

func (PostgresService) Delete(ctx context.Context, tx *dbscope.Tx, id string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM path WHERE id = $1`, id); err != nil {
		return apperr.Anyhow(fmt.Errorf("deleting path: %w", err))
	}
	return nil
}

func loadAppliedPolicies(ctx context.Context, tx *dbscope.Tx, pathID string) ([]types.AppliedPolicy, error) {
	rows, err := tx.Query(ctx, `SELECT policy_id FROM applied_path_policy WHERE path_id = $1`, pathID)
	if err != nil {
		return nil, apperr.Anyhow(fmt.Errorf("loading applied path policies: %w", err))
	}
	defer rows.Close()

	var out []types.AppliedPolicy
	for rows.Next() {
		var ap types.AppliedPolicy
		if err := rows.Scan(&ap.PolicyID); err != nil {
			return nil, apperr.Anyhow(fmt.Errorf("scanning applied path policy: %w", err))
		}
		out = append(out, ap)
	}
	return out, rows.Err()
}

// parent returns the parent of an absolute path, or "/" if p is already a
// top-level entry.
func parent(p string) string {
	if p == "/" {
		return "/"
	}
	trimmed := strings.TrimSuffix(p, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx <= 0 {
		return "/"
	}
	return trimmed[:idx]
}

func childPrefix(p string) string {
	if p == "/" {
		return "/"
	}
	return strings.TrimSuffix(p, "/") + "/"
}

// UseCase implements PathUseCase: register/update/delete paths, enforcing
// the tree and in-use invariants, all run inside a scoped transaction
// obtained via pkg/dbscope.
type UseCase struct {
	service       Service
	policyService policy.Service
}

func NewUseCase(service Service, policyService policy.Service) *UseCase {
	return &UseCase{service: service, policyService: policyService}
}

func (u *UseCase) GetAll(ctx context.Context, tx *dbscope.Tx) ([]types.Path, error) {
	return u.service.GetAll(ctx, tx)
}

func (u *UseCase) Get(ctx context.Context, tx *dbscope.Tx, p string) (*types.Path, error) {
	return u.service.Get(ctx, tx, p)
}

// Register validates the path, confirms its parent exists, verifies every
// policy expression parses, rejects duplicates, checks the claim satisfies
// ancestor policies, then inserts the row.
func (u *UseCase) Register(ctx context.Context, tx *dbscope.Tx, pathStr string, policyIDs []string, claim types.NebulaClaim) (*types.Path, error) {
	normalized, err := normalize(pathStr)
	if err != nil {
		return nil, err
	}

	if normalized != "/" {
		parentExists, err := u.service.Exists(ctx, tx, parent(normalized))
		if err != nil {
			return nil, err
		}
		if !parentExists {
			return nil, apperr.New(apperr.KindParentPathNotExists, normalized).WithField("entered_path", normalized)
		}
	}

	for _, pid := range policyIDs {
		p, err := u.policyService.Get(ctx, tx, pid)
		if err != nil {
			return nil, apperr.New(apperr.KindInvalidPathPolicy, pid)
		}
		if err := policy.Validate(p.Expression); err != nil {
			return nil, apperr.New(apperr.KindInvalidPathPolicy, pid)
		}
	}

	exists, err := u.service.Exists(ctx, tx, normalized)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.New(apperr.KindPathDuplicated, normalized).WithField("entered_path", normalized)
	}

	if err := u.authorizeAgainstAncestors(ctx, tx, normalized, claim); err != nil {
		return nil, err
	}

	p := &types.Path{
		ID:   ulid.Make().String(),
		Path: normalized,
	}
	for _, pid := range policyIDs {
		p.AppliedPolicies = append(p.AppliedPolicies, types.AppliedPolicy{PolicyID: pid})
	}

	if err := u.service.Insert(ctx, tx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update loads the aggregate and stages a rename and/or policy replacement,
// re-validating the new name's availability and parent, and the new
// policies' expressions, before persisting.
func (u *UseCase) Update(ctx context.Context, tx *dbscope.Tx, pathStr string, newPath *string, newPolicyIDs []string, claim types.NebulaClaim) error {
	p, err := u.service.Get(ctx, tx, pathStr)
	if err != nil {
		return err
	}

	if err := u.authorizeAgainstAncestors(ctx, tx, pathStr, claim); err != nil {
		return err
	}

	if newPath != nil {
		normalized, err := normalize(*newPath)
		if err != nil {
			return err
		}
		exists, err := u.service.Exists(ctx, tx, normalized)
		if err != nil {
			return err
		}
		if exists {
			return apperr.New(apperr.KindPathDuplicated, normalized).WithField("entered_path", normalized)
		}
		if normalized != "/" {
			parentExists, err := u.service.Exists(ctx, tx, parent(normalized))
			if err != nil {
				return err
			}
			if !parentExists {
				return apperr.New(apperr.KindParentPathNotExists, normalized).WithField("entered_path", normalized)
			}
		}
		if err := u.authorizeAgainstAncestors(ctx, tx, normalized, claim); err != nil {
			return err
		}
		if err := u.service.UpdatePath(ctx, tx, p.ID, normalized); err != nil {
			return err
		}
	}

	if newPolicyIDs != nil {
		for _, pid := range newPolicyIDs {
			pol, err := u.policyService.Get(ctx, tx, pid)
			if err != nil {
				return apperr.New(apperr.KindInvalidPathPolicy, pid)
			}
			if err := policy.Validate(pol.Expression); err != nil {
				return apperr.New(apperr.KindInvalidPathPolicy, pid)
			}
		}
		if err := u.service.ReplacePolicies(ctx, tx, p.ID, newPolicyIDs); err != nil {
			return err
		}
	}

	return nil
}

// Delete verifies the in-use rule (zero child paths and zero child
// secret-metadata rows) before tombstoning the aggregate.
func (u *UseCase) Delete(ctx context.Context, tx *dbscope.Tx, pathStr string, claim types.NebulaClaim) error {
	p, err := u.service.Get(ctx, tx, pathStr)
	if err != nil {
		return err
	}

	if err := u.authorizeAgainstAncestors(ctx, tx, pathStr, claim); err != nil {
		return err
	}

	childPaths, err := u.service.CountChildPaths(ctx, tx, pathStr)
	if err != nil {
		return err
	}
	childSecrets, err := u.service.CountChildSecrets(ctx, tx, pathStr)
	if err != nil {
		return err
	}
	if childPaths > 0 || childSecrets > 0 {
		return apperr.New(apperr.KindPathIsInUse, pathStr).WithField("entered_path", pathStr)
	}

	return u.service.Delete(ctx, tx, p.ID)
}

// authorizeAgainstAncestors requires the claim to satisfy the applied
// policies of pathStr and every one of its ancestors. Admin bypasses all
// checks.
func (u *UseCase) authorizeAgainstAncestors(ctx context.Context, tx *dbscope.Tx, pathStr string, claim types.NebulaClaim) error {
	return Authorize(ctx, tx, u.service, u.policyService, pathStr, claim)
}

// Authorize requires claim to satisfy the applied policies of pathStr and
// every one of its ancestors. Admin bypasses all checks. Exported so
// pkg/secret and pkg/parameter can gate writes against a path's policies
// without duplicating the ancestor walk.
func Authorize(ctx context.Context, tx *dbscope.Tx, service Service, policyService policy.Service, pathStr string, claim types.NebulaClaim) error {
	if claim.Role == types.RoleAdmin {
		return nil
	}

	for cursor := pathStr; ; cursor = parent(cursor) {
		p, err := service.Get(ctx, tx, cursor)
		if err == nil {
			for _, ap := range p.AppliedPolicies {
				pol, err := policyService.Get(ctx, tx, ap.PolicyID)
				if err != nil {
					return apperr.Anyhow(fmt.Errorf("loading applied policy: %w", err))
				}
				ok, err := policy.Evaluate(pol.Expression, claim.Attributes)
				if err != nil {
					return apperr.Anyhow(fmt.Errorf("evaluating policy %s: %w", pol.ID, err))
				}
				if !ok {
					return apperr.New(apperr.KindAccessDenied, "claim does not satisfy path policy").WithField("entered_path", pathStr)
				}
			}
		}
		if cursor == "/" {
			break
		}
	}
	return nil
}

// normalize validates that p is an absolute, normalized path (no trailing
// slash except root) and returns the canonical form.
func normalize(p string) (string, error) {
	if p == "" || p[0] != '/' {
		return "", apperr.New(apperr.KindInvalidPath, p)
	}
	if p == "/" {
		return "/", nil
	}
	if strings.HasSuffix(p, "/") {
		return "", apperr.New(apperr.KindInvalidPath, p)
	}
	if strings.Contains(p, "//") {
		return "", apperr.New(apperr.KindInvalidPath, p)
	}
	return p, nil
}
