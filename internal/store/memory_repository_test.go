package store

import (
	"context"
	"errors"
	"testing"

	"github.com/leadflow/deal-service/internal/domain"
)

var _ Repository = (*MemoryRepository)(nil)
var _ Repository = (*PostgresRepository)(nil)

func TestMemoryRepositoryAssignManagerAtomic(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	repo.AddManager(domain.Manager{ID: 10, Email: "a@example.com", DealsCount: 3})
	repo.AddManager(domain.Manager{ID: 11, Email: "b@example.com", DealsCount: 1})
	repo.AddManager(domain.Manager{ID: 12, Email: "c@example.com", DealsCount: 1})

	deal := &domain.Deal{Name: "Deal", Source: domain.SourceThree}
	if err := repo.CreateDeal(ctx, deal); err != nil {
		t.Fatalf("CreateDeal returned error: %v", err)
	}

	selected, err := repo.AssignManagerAtomic(ctx, deal.ID, []string{"a@example.com", "b@example.com", "c@example.com"})
	if err != nil {
		t.Fatalf("AssignManagerAtomic returned error: %v", err)
	}
	if selected.ID != 11 || selected.DealsCount != 2 {
		t.Fatalf("expected manager 11 with 2 deals, got %+v", selected)
	}

	stored, err := repo.FindDealByID(ctx, deal.ID)
	if err != nil {
		t.Fatalf("FindDealByID returned error: %v", err)
	}
	if stored.ManagerID == nil || *stored.ManagerID != 11 {
		t.Fatalf("expected deal owned by 11, got %v", stored.ManagerID)
	}
	if stored.Manager == nil || stored.Manager.Email != "b@example.com" {
		t.Fatalf("expected manager relation to be loaded, got %+v", stored.Manager)
	}

	_, err = repo.AssignManagerAtomic(ctx, deal.ID, []string{"c@example.com"})
	if !errors.Is(err, ErrDealAlreadyAssigned) {
		t.Fatalf("expected ErrDealAlreadyAssigned, got %v", err)
	}
	if m, _ := repo.Manager(12); m.DealsCount != 1 {
		t.Fatalf("expected manager 12 untouched, got %d", m.DealsCount)
	}
}

func TestMemoryRepositoryAssignManagerAtomic_EmptyPool(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	deal := &domain.Deal{Name: "Deal", Source: domain.SourceOne}
	_ = repo.CreateDeal(ctx, deal)

	_, err := repo.AssignManagerAtomic(ctx, deal.ID, []string{"missing@example.com"})
	if !errors.Is(err, ErrNoEligibleManager) {
		t.Fatalf("expected ErrNoEligibleManager, got %v", err)
	}
	stored, _ := repo.FindDealByID(ctx, deal.ID)
	if stored.ManagerID != nil {
		t.Fatal("deal must stay unowned when no manager is eligible")
	}
}

func TestMemoryRepositoryFindUnassignedDealsPagesByID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	repo.AddManager(domain.Manager{Email: "a@example.com"})
	for i := 0; i < 5; i++ {
		_ = repo.CreateDeal(ctx, &domain.Deal{Name: "Deal", Source: domain.SourceThree})
	}
	first, _ := repo.FindUnassignedDeals(ctx, 0, 2)
	if len(first) != 2 {
		t.Fatalf("expected 2 deals, got %d", len(first))
	}
	if _, err := repo.AssignManagerAtomic(ctx, first[0].ID, []string{"a@example.com"}); err != nil {
		t.Fatalf("AssignManagerAtomic returned error: %v", err)
	}

	rest, _ := repo.FindUnassignedDeals(ctx, first[1].ID, 10)
	if len(rest) != 3 {
		t.Fatalf("expected 3 remaining deals, got %d", len(rest))
	}
	for i := 1; i < len(rest); i++ {
		if rest[i-1].ID >= rest[i].ID {
			t.Fatalf("expected ascending ids, got %d then %d", rest[i-1].ID, rest[i].ID)
		}
	}
}
