package parameter

import (
	"context"
	"testing"

	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/dbscope"
	pathpkg "github.com/boris-cremit/nebula/pkg/path"
	"github.com/boris-cremit/nebula/pkg/types"
)

type fakeService struct {
	byKey map[string]*types.Parameter
}

func newFakeService() *fakeService { return &fakeService{byKey: make(map[string]*types.Parameter)} }

func (f *fakeService) GetAll(ctx context.Context, tx *dbscope.Tx) ([]types.Parameter, error) {
	var out []types.Parameter
	for _, p := range f.byKey {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeService) Get(ctx context.Context, tx *dbscope.Tx, key string) (*types.Parameter, error) {
	p, ok := f.byKey[key]
	if !ok {
		return nil, apperr.New(apperr.KindParameterNotExists, key)
	}
	return p, nil
}

func (f *fakeService) Exists(ctx context.Context, tx *dbscope.Tx, key string) (bool, error) {
	_, ok := f.byKey[key]
	return ok, nil
}

func (f *fakeService) Insert(ctx context.Context, tx *dbscope.Tx, p *types.Parameter) error {
	f.byKey[p.Key] = p
	return nil
}

func (f *fakeService) UpdateValue(ctx context.Context, tx *dbscope.Tx, id, value string) error {
	for _, p := range f.byKey {
		if p.ID == id {
			p.Value = value
		}
	}
	return nil
}

func (f *fakeService) Delete(ctx context.Context, tx *dbscope.Tx, id string) error {
	for k, p := range f.byKey {
		if p.ID == id {
			delete(f.byKey, k)
		}
	}
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

func TestCreateWorkspaceDefaultIsIdempotentToCaller(t *testing.T) {
	svc := newFakeService()
	uc := NewUseCase(svc, &fakePathService{byPath: map[string]*types.Path{}}, &fakePolicyService{byID: map[string]*types.Policy{}})
	ctx := context.Background()

	if err := uc.CreateWorkspaceDefault(ctx, nil); err != nil {
		t.Fatalf("first CreateWorkspaceDefault: %v", err)
	}

	err := uc.CreateWorkspaceDefault(ctx, nil)
	if !apperr.Is(err, apperr.KindParameterAlreadyCreated) {
		t.Fatalf("expected ParameterAlreadyCreated on second call, got %v", err)
	}
}

func TestSetRequiresPathAuthorization(t *testing.T) {
	svc := newFakeService()
	pathSvc := &fakePathService{byPath: map[string]*types.Path{
		"/restricted": {ID: "restricted", Path: "/restricted", AppliedPolicies: []types.AppliedPolicy{{PolicyID: "p1"}}},
	}}
	policySvc := &fakePolicyService{byID: map[string]*types.Policy{
		"p1": {ID: "p1", Name: "admin-only", Expression: `"role=ADMIN@X"`},
	}}
	uc := NewUseCase(svc, pathSvc, policySvc)
	ctx := context.Background()

	member := types.NebulaClaim{Gid: "m1", Role: types.RoleMember, Attributes: map[string]string{}}
	err := uc.Set(ctx, nil, "db_host", "localhost", "/restricted", member)
	if !apperr.Is(err, apperr.KindAccessDenied) {
		t.Fatalf("expected AccessDenied for member, got %v", err)
	}

	admin := types.NebulaClaim{Gid: "a1", Role: types.RoleAdmin}
	if err := uc.Set(ctx, nil, "db_host", "localhost", "/restricted", admin); err != nil {
		t.Fatalf("expected admin Set to succeed, got %v", err)
	}
	got, err := svc.Get(ctx, nil, "db_host")
	if err != nil || got.Value != "localhost" {
		t.Fatalf("parameter not persisted correctly: %v, %v", got, err)
	}
}

var _ = pathpkg.Service(nil) // ensures fakePathService's shape tracks path.Service
