package secret

import (
	"bytes"
	"context"
	"testing"

	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/dbscope"
	"github.com/boris-cremit/nebula/pkg/security"
	"github.com/boris-cremit/nebula/pkg/types"
)

type fakeSecretService struct {
	metaByID    map[string]*types.SecretMetadata
	valueByID   map[string]*types.SecretValue
	metaByIdent map[string]*types.SecretMetadata
}

func newFakeSecretService() *fakeSecretService {
	return &fakeSecretService{
		metaByID:    make(map[string]*types.SecretMetadata),
		valueByID:   make(map[string]*types.SecretValue),
		metaByIdent: make(map[string]*types.SecretMetadata),
	}
}

func (f *fakeSecretService) Get(ctx context.Context, tx *dbscope.Tx, identifier string) (*types.SecretMetadata, *types.SecretValue, error) {
	meta, ok := f.metaByIdent[identifier]
	if !ok {
		return nil, nil, apperr.New(apperr.KindSecretNotExists, identifier)
	}
	for _, v := range f.valueByID {
		if v.Identifier == identifier {
			mc := *meta
			vc := *v
			return &mc, &vc, nil
		}
	}
	return nil, nil, apperr.New(apperr.KindSecretNotExists, identifier)
}

func (f *fakeSecretService) Exists(ctx context.Context, tx *dbscope.Tx, identifier string) (bool, error) {
	_, ok := f.metaByIdent[identifier]
	return ok, nil
}

func (f *fakeSecretService) Insert(ctx context.Context, tx *dbscope.Tx, meta *types.SecretMetadata, value *types.SecretValue) error {
	f.metaByID[meta.ID] = meta
	f.metaByIdent[meta.Key] = meta
	f.valueByID[value.ID] = value
	return nil
}

func (f *fakeSecretService) UpdateCipher(ctx context.Context, tx *dbscope.Tx, valueID string, cipher []byte) error {
	f.valueByID[valueID].Cipher = cipher
	return nil
}

func (f *fakeSecretService) ReplacePolicies(ctx context.Context, tx *dbscope.Tx, metaID string, policyIDs []string) error {
	meta := f.metaByID[metaID]
	meta.AppliedPolicies = nil
	for _, pid := range policyIDs {
		meta.AppliedPolicies = append(meta.AppliedPolicies, types.AppliedPolicy{PolicyID: pid})
	}
	f.metaByIdent[meta.Key] = meta
	return nil
}

func (f *fakeSecretService) Delete(ctx context.Context, tx *dbscope.Tx, metaID, valueID string) error {
	meta := f.metaByID[metaID]
	delete(f.metaByIdent, meta.Key)
	delete(f.metaByID, metaID)
	delete(f.valueByID, valueID)
	return nil
}

type fakePathService struct{ byPath map[string]*types.Path }

func (f *fakePathService) GetAll(ctx context.Context, tx *dbscope.Tx) ([]types.Path, error) { return nil, nil }
func (f *fakePathService) Get(ctx context.Context, tx *dbscope.Tx, p string) (*types.Path, error) {
	got, ok := f.byPath[p]
	if !ok {
		return nil, apperr.New(apperr.KindPathNotExists, p)
	}
	return got, nil
}
func (f *fakePathService) Exists(ctx context.Context, tx *dbscope.Tx, p string) (bool, error) {
	_, ok := f.byPath[p]
	return ok, nil
}
func (f *fakePathService) CountChildPaths(ctx context.Context, tx *dbscope.Tx, p string) (int, error) {
	return 0, nil
}
func (f *fakePathService) CountChildSecrets(ctx context.Context, tx *dbscope.Tx, p string) (int, error) {
	return 0, nil
}
func (f *fakePathService) Insert(ctx context.Context, tx *dbscope.Tx, p *types.Path) error { return nil }
func (f *fakePathService) UpdatePath(ctx context.Context, tx *dbscope.Tx, id, newPath string) error {
	return nil
}
func (f *fakePathService) ReplacePolicies(ctx context.Context, tx *dbscope.Tx, id string, policyIDs []string) error {
	return nil
}
func (f *fakePathService) Delete(ctx context.Context, tx *dbscope.Tx, id string) error { return nil }

type fakePolicyService struct{ byID map[string]*types.Policy }

func (f *fakePolicyService) List(ctx context.Context, tx *dbscope.Tx) ([]types.Policy, error) {
	return nil, nil
}
func (f *fakePolicyService) Get(ctx context.Context, tx *dbscope.Tx, id string) (*types.Policy, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, apperr.New(apperr.KindPolicyNotExists, "not found")
	}
	return p, nil
}
func (f *fakePolicyService) Register(ctx context.Context, tx *dbscope.Tx, name, expression string) (*types.Policy, error) {
	return nil, nil
}
func (f *fakePolicyService) Persist(ctx context.Context, tx *dbscope.Tx, p *types.Policy) error {
	return nil
}

func newTestSealer(t *testing.T) *security.Sealer {
	t.Helper()
	s, err := security.NewSealer(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestMemberDeniedAdminGrantedOnSecretRead(t *testing.T) {
	svc := newFakeSecretService()
	pathSvc := &fakePathService{byPath: map[string]*types.Path{"/": {ID: "root", Path: "/"}}}
	policySvc := &fakePolicyService{byID: map[string]*types.Policy{
		"p1": {ID: "p1", Name: "admin-only", Expression: `"role=ADMIN@X"`},
	}}
	uc := NewUseCase(svc, pathSvc, policySvc, newTestSealer(t))
	ctx := context.Background()
	admin := types.NebulaClaim{Gid: "a1", Role: types.RoleAdmin}

	if err := uc.Set(ctx, nil, "db-password", "/", []byte("hunter2"), []string{"p1"}, admin); err != nil {
		t.Fatalf("Set: %v", err)
	}

	member := types.NebulaClaim{Gid: "m1", Role: types.RoleMember, Attributes: map[string]string{}}
	if _, err := uc.Get(ctx, nil, "db-password", member); !apperr.Is(err, apperr.KindAccessDenied) {
		t.Fatalf("expected AccessDenied for member, got %v", err)
	}

	plaintext, err := uc.Get(ctx, nil, "db-password", admin)
	if err != nil {
		t.Fatalf("expected admin read to succeed, got %v", err)
	}
	if !bytes.Equal(plaintext, []byte("hunter2")) {
		t.Fatalf("plaintext = %q, want %q", plaintext, "hunter2")
	}
}

func TestSetConflictingIdentifierFails(t *testing.T) {
	svc := newFakeSecretService()
	pathSvc := &fakePathService{byPath: map[string]*types.Path{"/": {ID: "root", Path: "/"}}}
	policySvc := &fakePolicyService{byID: map[string]*types.Policy{}}
	uc := NewUseCase(svc, pathSvc, policySvc, newTestSealer(t))
	ctx := context.Background()
	admin := types.NebulaClaim{Gid: "a1", Role: types.RoleAdmin}

	if err := uc.Set(ctx, nil, "api-key", "/", []byte("v1"), nil, admin); err != nil {
		t.Fatalf("first Set: %v", err)
	}
	err := uc.Set(ctx, nil, "api-key", "/", []byte("v2"), nil, admin)
	if !apperr.Is(err, apperr.KindIdentifierConflicted) {
		t.Fatalf("expected IdentifierConflicted, got %v", err)
	}
}

func TestUpdateAndDeleteRoundTrip(t *testing.T) {
	svc := newFakeSecretService()
	pathSvc := &fakePathService{byPath: map[string]*types.Path{"/": {ID: "root", Path: "/"}}}
	policySvc := &fakePolicyService{byID: map[string]*types.Policy{}}
	uc := NewUseCase(svc, pathSvc, policySvc, newTestSealer(t))
	ctx := context.Background()
	admin := types.NebulaClaim{Gid: "a1", Role: types.RoleAdmin}

	if err := uc.Set(ctx, nil, "api-key", "/", []byte("v1"), nil, admin); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := uc.Update(ctx, nil, "api-key", []byte("v2"), admin); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := uc.Get(ctx, nil, "api-key", admin)
	if err != nil || !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("Get after Update = %q, %v", got, err)
	}

	if err := uc.Delete(ctx, nil, "api-key", admin); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := uc.Get(ctx, nil, "api-key", admin); !apperr.Is(err, apperr.KindSecretNotExists) {
		t.Fatalf("expected SecretNotExists after delete, got %v", err)
	}
}
