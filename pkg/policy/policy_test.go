package policy

import (
	"context"
	"testing"

	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/dbscope"
	"github.com/boris-cremit/nebula/pkg/types"
)

// fakeService is an in-memory Service used to exercise UseCase without a
// database, matching C7-C9's "interface with concrete DB-backed and
// in-memory test implementations" design note.
type fakeService struct {
	byID       map[string]*types.Policy
	persisted  []types.Policy
}

func newFakeService() *fakeService {
	return &fakeService{byID: make(map[string]*types.Policy)}
}

func (f *fakeService) List(ctx context.Context, tx *dbscope.Tx) ([]types.Policy, error) { return nil, nil }

func (f *fakeService) Get(ctx context.Context, tx *dbscope.Tx, id string) (*types.Policy, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, apperr.New(apperr.KindPolicyNotExists, "not found")
	}
	return p, nil
}

func (f *fakeService) Register(ctx context.Context, tx *dbscope.Tx, name, expression string) (*types.Policy, error) {
	if err := Validate(expression); err != nil {
		return nil, apperr.New(apperr.KindInvalidExpression, err.Error())
	}
	for _, p := range f.byID {
		if p.Name == name {
			return nil, apperr.New(apperr.KindPolicyNameDuplicated, name)
		}
	}
	p := &types.Policy{ID: name, Name: name, Expression: expression}
	f.byID[p.ID] = p
	return p, nil
}

func (f *fakeService) Persist(ctx context.Context, tx *dbscope.Tx, p *types.Policy) error {
	f.persisted = append(f.persisted, *p)
	return nil
}

func TestUpdateNameIsIdempotent(t *testing.T) {
	svc := newFakeService()
	uc := NewUseCase(svc)
	ctx := context.Background()

	p, err := svc.Register(ctx, nil, "original", `"role=ADMIN"`)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := uc.UpdateName(ctx, nil, p.ID, "renamed"); err != nil {
		t.Fatalf("first UpdateName: %v", err)
	}
	if err := uc.UpdateName(ctx, nil, p.ID, "renamed"); err != nil {
		t.Fatalf("second UpdateName: %v", err)
	}

	if len(svc.persisted) != 2 {
		t.Fatalf("expected 2 persist calls, got %d", len(svc.persisted))
	}
	first, second := svc.persisted[0], svc.persisted[1]
	if n, ok := first.StagedName(); !ok || n != "renamed" {
		t.Fatalf("first persist staged name = %v, %v", n, ok)
	}
	if n, ok := second.StagedName(); !ok || n != "renamed" {
		t.Fatalf("second persist staged name = %v, %v", n, ok)
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	svc := newFakeService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, nil, "shared", `"role=ADMIN"`); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := svc.Register(ctx, nil, "shared", `"role=MEMBER"`)
	if !apperr.Is(err, apperr.KindPolicyNameDuplicated) {
		t.Fatalf("expected PolicyNameDuplicated, got %v", err)
	}
}

func TestRegisterRejectsInvalidExpression(t *testing.T) {
	svc := newFakeService()
	ctx := context.Background()

	_, err := svc.Register(ctx, nil, "broken", `("role=FRONTEND@A"`)
	if !apperr.Is(err, apperr.KindInvalidExpression) {
		t.Fatalf("expected InvalidExpression, got %v", err)
	}
}
