// Package secret implements the Secret aggregate: a (SecretMetadata,
// SecretValue, AppliedPolicy*) triplet keyed by identifier within a
// workspace. Reads are gated by the union of the secret's own applied
// policies and every ancestor path's applied policies; writes additionally
// require Admin or satisfaction of the target path's policies.
package secret

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/dbscope"
	"github.com/boris-cremit/nebula/pkg/path"
	"github.com/boris-cremit/nebula/pkg/policy"
	"github.com/boris-cremit/nebula/pkg/security"
	"github.com/boris-cremit/nebula/pkg/types"
)

// Service is the process-wide singleton over secret storage.
type Service interface {
	Get(ctx context.Context, tx *dbscope.Tx, identifier string) (*types.SecretMetadata, *types.SecretValue, error)
	Exists(ctx context.Context, tx *dbscope.Tx, identifier string) (bool, error)
	Insert(ctx context.Context, tx *dbscope.Tx, meta *types.SecretMetadata, value *types.SecretValue) error
	UpdateCipher(ctx context.Context, tx *dbscope.Tx, valueID string, cipher []byte) error
	ReplacePolicies(ctx context.Context, tx *dbscope.Tx, metaID string, policyIDs []string) error
	Delete(ctx context.Context, tx *dbscope.Tx, metaID, valueID string) error
}

// PostgresService is the Postgres-backed implementation of Service.
type PostgresService struct{}

func (PostgresService) Get(ctx context.Context, tx *dbscope.Tx, identifier string) (*types.SecretMetadata, *types.SecretValue, error) {
	var meta types.SecretMetadata
	var value types.SecretValue
	err := tx.QueryRow(ctx, `
		SELECT m.id, m.key, m.path, m.created_at, m.updated_at,
		       v.id, v.identifier, v.cipher, v.created_at, v.updated_at
		FROM secret_metadata m
		JOIN secret_value v ON v.identifier = m.key
		WHERE v.identifier = $1`, identifier).Scan(
		&meta.ID, &meta.Key, &meta.Path, &meta.CreatedAt, &meta.UpdatedAt,
		&value.ID, &value.Identifier, &value.Cipher, &value.CreatedAt, &value.UpdatedAt,
	)
	if err != nil {
		return nil, nil, apperr.New(apperr.KindSecretNotExists, identifier)
	}

	rows, err := tx.Query(ctx, `SELECT policy_id FROM applied_policy WHERE secret_metadata_id = $1`, meta.ID)
	if err != nil {
		return nil, nil, apperr.Anyhow(fmt.Errorf("loading applied policies: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var ap types.AppliedPolicy
		if err := rows.Scan(&ap.PolicyID); err != nil {
			return nil, nil, apperr.Anyhow(fmt.Errorf("scanning applied policy: %w", err))
		}
		meta.AppliedPolicies = append(meta.AppliedPolicies, ap)
	}

	return &meta, &value, rows.Err()
}

func (PostgresService) Exists(ctx context.Context, tx *dbscope.Tx, identifier string) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM secret_value WHERE identifier = $1)`, identifier).Scan(&exists); err != nil {
		return false, apperr.Anyhow(fmt.Errorf("checking secret existence: %w", err))
	}
	return exists, nil
}

func (PostgresService) Insert(ctx context.Context, tx *dbscope.Tx, meta *types.SecretMetadata, value *types.SecretValue) error {
	if _, err := tx.Exec(ctx, `INSERT INTO secret_metadata (id, key, path) VALUES ($1, $2, $3)`,
		meta.ID, meta.Key, meta.Path); err != nil {
		return apperr.Anyhow(fmt.Errorf("inserting secret metadata: %w", err))
	}
	if _, err := tx.Exec(ctx, `INSERT INTO secret_value (id, identifier, cipher) VALUES ($1, $2, $3)`,
		value.ID, value.Identifier, value.Cipher); err != nil {
		return apperr.Anyhow(fmt.Errorf("inserting secret value: %w", err))
	}
	return nil
}

func (PostgresService) UpdateCipher(ctx context.Context, tx *dbscope.Tx, valueID string, cipher []byte) error {
	if _, err := tx.Exec(ctx, `UPDATE secret_value SET cipher = $1, updated_at = now() WHERE id = $2`, cipher, valueID); err != nil {
		return apperr.Anyhow(fmt.Errorf("updating secret value: %w", err))
	}
	return nil
}

func (PostgresService) ReplacePolicies(ctx context.Context, tx *dbscope.Tx, metaID string, policyIDs []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM applied_policy WHERE secret_metadata_id = $1`, metaID); err != nil {
		return apperr.Anyhow(fmt.Errorf("clearing applied policies: %w", err))
	}
	for _, pid := range policyIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO applied_policy (id, secret_metadata_id, policy_id) VALUES ($1, $2, $3)`,
			ulid.Make().String(), metaID, pid); err != nil {
			return apperr.Anyhow(fmt.Errorf("inserting applied policy: %w", err))
		}
	}
	return nil
}

func (PostgresService) Delete(ctx context.Context, tx *dbscope.Tx, metaID, valueID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM applied_policy WHERE secret_metadata_id = $1`, metaID); err != nil {
		return apperr.Anyhow(fmt.Errorf("deleting applied policies: %w", err))
	}
	if _, err := tx.Exec(ctx, `DELETE FROM secret_value WHERE id = $1`, valueID); err != nil {
		return apperr.Anyhow(fmt.Errorf("deleting secret value: %w", err))
	}
	if _, err := tx.Exec(ctx, `DELETE FROM secret_metadata WHERE id = $1`, metaID); err != nil {
		return apperr.Anyhow(fmt.Errorf("deleting secret metadata: %w", err))
	}
	return nil
}

// UseCase implements SecretUseCase: CRUD keyed by identifier, with
// policy-union read authorization and path-policy write authorization.
type UseCase struct {
	service       Service
	pathService   path.Service
	policyService policy.Service
	sealer        *security.Sealer
}

func NewUseCase(service Service, pathService path.Service, policyService policy.Service, sealer *security.Sealer) *UseCase {
	return &UseCase{service: service, pathService: pathService, policyService: policyService, sealer: sealer}
}

// Get returns the plaintext secret value after verifying that claim
// satisfies every policy applied to the secret itself and to every
// ancestor of its path. Admin bypasses all checks.
func (u *UseCase) Get(ctx context.Context, tx *dbscope.Tx, identifier string, claim types.NebulaClaim) ([]byte, error) {
	meta, value, err := u.service.Get(ctx, tx, identifier)
	if err != nil {
		return nil, err
	}

	if claim.Role != types.RoleAdmin {
		for _, ap := range meta.AppliedPolicies {
			if err := u.requirePolicySatisfied(ctx, tx, ap.PolicyID, claim, identifier); err != nil {
				return nil, err
			}
		}
		if err := path.Authorize(ctx, tx, u.pathService, u.policyService, meta.Path, claim); err != nil {
			return nil, err
		}
	}

	return u.sealer.Open(value.Cipher)
}

// Set creates or overwrites the secret identified by identifier, sealing
// plaintext before persisting. Requires Admin or satisfaction of the
// target path's policies.
func (u *UseCase) Set(ctx context.Context, tx *dbscope.Tx, identifier, pathStr string, plaintext []byte, policyIDs []string, claim types.NebulaClaim) error {
	if err := normalizeIdentifier(identifier); err != nil {
		return err
	}
	if err := path.Authorize(ctx, tx, u.pathService, u.policyService, pathStr, claim); err != nil {
		return err
	}
	if _, err := u.pathService.Get(ctx, tx, pathStr); err != nil {
		return err
	}

	cipher, err := u.sealer.Seal(plaintext)
	if err != nil {
		return apperr.Anyhow(fmt.Errorf("sealing secret: %w", err))
	}

	exists, err := u.service.Exists(ctx, tx, identifier)
	if err != nil {
		return err
	}
	if exists {
		return apperr.New(apperr.KindIdentifierConflicted, identifier)
	}

	metaID := ulid.Make().String()
	valueID := ulid.Make().String()
	if err := u.service.Insert(ctx, tx, &types.SecretMetadata{
		ID:   metaID,
		Key:  identifier,
		Path: pathStr,
	}, &types.SecretValue{
		ID:         valueID,
		Identifier: identifier,
		Cipher:     cipher,
	}); err != nil {
		return err
	}

	if len(policyIDs) > 0 {
		if err := u.verifyPoliciesExist(ctx, tx, policyIDs); err != nil {
			return err
		}
		return u.service.ReplacePolicies(ctx, tx, metaID, policyIDs)
	}
	return nil
}

// Update overwrites the sealed value of an existing secret. Requires
// Admin or satisfaction of the target path's policies.
func (u *UseCase) Update(ctx context.Context, tx *dbscope.Tx, identifier string, plaintext []byte, claim types.NebulaClaim) error {
	meta, value, err := u.service.Get(ctx, tx, identifier)
	if err != nil {
		return err
	}
	if err := path.Authorize(ctx, tx, u.pathService, u.policyService, meta.Path, claim); err != nil {
		return err
	}
	cipher, err := u.sealer.Seal(plaintext)
	if err != nil {
		return apperr.Anyhow(fmt.Errorf("sealing secret: %w", err))
	}
	return u.service.UpdateCipher(ctx, tx, value.ID, cipher)
}

// Delete removes the secret triplet. Requires Admin or satisfaction of
// the target path's policies.
func (u *UseCase) Delete(ctx context.Context, tx *dbscope.Tx, identifier string, claim types.NebulaClaim) error {
	meta, value, err := u.service.Get(ctx, tx, identifier)
	if err != nil {
		return err
	}
	if err := path.Authorize(ctx, tx, u.pathService, u.policyService, meta.Path, claim); err != nil {
		return err
	}
	return u.service.Delete(ctx, tx, meta.ID, value.ID)
}

func (u *UseCase) requirePolicySatisfied(ctx context.Context, tx *dbscope.Tx, policyID string, claim types.NebulaClaim, identifier string) error {
	pol, err := u.policyService.Get(ctx, tx, policyID)
	if err != nil {
		return apperr.Anyhow(fmt.Errorf("loading applied policy: %w", err))
	}
	ok, err := policy.Evaluate(pol.Expression, claim.Attributes)
	if err != nil {
		return apperr.Anyhow(fmt.Errorf("evaluating policy %s: %w", pol.ID, err))
	}
	if !ok {
		return apperr.New(apperr.KindAccessDenied, "claim does not satisfy secret policy").WithField("identifier", identifier)
	}
	return nil
}

func (u *UseCase) verifyPoliciesExist(ctx context.Context, tx *dbscope.Tx, policyIDs []string) error {
	for _, pid := range policyIDs {
		if _, err := u.policyService.Get(ctx, tx, pid); err != nil {
			return apperr.New(apperr.KindInvalidSecretPolicy, pid)
		}
	}
	return nil
}

func normalizeIdentifier(identifier string) error {
	if identifier == "" {
		return apperr.New(apperr.KindInvalidSecretIdentifier, identifier)
	}
	return nil
}
