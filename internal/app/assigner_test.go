package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/leadflow/deal-service/internal/domain"
	"github.com/leadflow/deal-service/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedDefaultManagers stores manager1..5@gmail.com with ids 1..5.
func seedDefaultManagers(repo *store.MemoryRepository, counts ...int64) {
	for i, email := range domain.DefaultAssignmentConfig().DefaultPoolEmails {
		var count int64
		if i < len(counts) {
			count = counts[i]
		}
		repo.AddManager(domain.Manager{ID: int64(i + 1), Email: email, DealsCount: count})
	}
}

func createDeal(t *testing.T, repo store.Repository, source string) *domain.Deal {
	t.Helper()
	deal := &domain.Deal{Name: "Deal", Source: source, CustomerID: 1}
	if err := repo.CreateDeal(context.Background(), deal); err != nil {
		t.Fatalf("CreateDeal returned error: %v", err)
	}
	return deal
}

func managerCount(t *testing.T, repo *store.MemoryRepository, id int64) int64 {
	t.Helper()
	m, ok := repo.Manager(id)
	if !ok {
		t.Fatalf("manager %d not found", id)
	}
	return m.DealsCount
}

func TestAssignForDeal_LeastLoadedWithTieBreak(t *testing.T) {
	repo := store.NewMemoryRepository()
	repo.AddManager(domain.Manager{ID: 10, Email: "a@example.com", DealsCount: 3})
	repo.AddManager(domain.Manager{ID: 11, Email: "b@example.com", DealsCount: 1})
	repo.AddManager(domain.Manager{ID: 12, Email: "c@example.com", DealsCount: 1})
	override := &domain.AssignmentOverride{DefaultPoolEmails: []string{"a@example.com", "b@example.com", "c@example.com"}}

	assigner := NewAssigner(repo, domain.DefaultAssignmentConfig(), testLogger())
	deal := createDeal(t, repo, domain.SourceThree)

	assigned, err := assigner.AssignForDeal(context.Background(), deal, override)
	if err != nil {
		t.Fatalf("AssignForDeal returned error: %v", err)
	}
	if assigned.ManagerID == nil || *assigned.ManagerID != 11 {
		t.Fatalf("expected manager 11, got %v", assigned.ManagerID)
	}

	expected := map[int64]int64{10: 3, 11: 2, 12: 1}
	for id, count := range expected {
		if got := managerCount(t, repo, id); got != count {
			t.Fatalf("manager %d: expected %d deals, got %d", id, count, got)
		}
	}
}

func TestAssignForDeal_IsIdempotent(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedDefaultManagers(repo)
	assigner := NewAssigner(repo, domain.DefaultAssignmentConfig(), testLogger())
	deal := createDeal(t, repo, domain.SourceFour)

	first, err := assigner.AssignForDeal(context.Background(), deal, nil)
	if err != nil {
		t.Fatalf("AssignForDeal returned error: %v", err)
	}
	owner := *first.ManagerID

	for i := 0; i < 3; i++ {
		again, err := assigner.AssignForDeal(context.Background(), first, nil)
		if err != nil {
			t.Fatalf("repeat AssignForDeal returned error: %v", err)
		}
		if *again.ManagerID != owner {
			t.Fatalf("expected owner %d to be kept, got %d", owner, *again.ManagerID)
		}
	}

	// A stale copy without ManagerID must not reassign either.
	stale := *deal
	stale.ManagerID = nil
	again, err := assigner.AssignForDeal(context.Background(), &stale, nil)
	if err != nil {
		t.Fatalf("stale AssignForDeal returned error: %v", err)
	}
	if *again.ManagerID != owner {
		t.Fatalf("expected owner %d, got %d", owner, *again.ManagerID)
	}

	var total int64
	for id := int64(1); id <= 5; id++ {
		total += managerCount(t, repo, id)
	}
	if total != 1 {
		t.Fatalf("expected exactly one increment, got %d", total)
	}
}

func TestAssignForDeal_PoolContainment(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		allowed map[int64]bool
	}{
		{name: "source 1 single manager", source: domain.SourceOne, allowed: map[int64]bool{4: true}},
		{name: "source 2 pair", source: domain.SourceTwo, allowed: map[int64]bool{1: true, 2: true}},
		{name: "source 5 everyone", source: domain.SourceFive, allowed: map[int64]bool{1: true, 2: true, 3: true, 4: true, 5: true}},
		{name: "unknown source everyone", source: "Referral", allowed: map[int64]bool{1: true, 2: true, 3: true, 4: true, 5: true}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := store.NewMemoryRepository()
			// Manager 4 carries the heaviest load so a leak would pick someone else.
			seedDefaultManagers(repo, 5, 5, 0, 50, 0)
			assigner := NewAssigner(repo, domain.DefaultAssignmentConfig(), testLogger())

			seen := map[int64]bool{}
			for i := 0; i < 12; i++ {
				assigned, err := assigner.AssignForDeal(context.Background(), createDeal(t, repo, tc.source), nil)
				if err != nil {
					t.Fatalf("AssignForDeal returned error: %v", err)
				}
				if !tc.allowed[*assigned.ManagerID] {
					t.Fatalf("manager %d is outside the %s pool", *assigned.ManagerID, tc.source)
				}
				seen[*assigned.ManagerID] = true
			}
			if len(tc.allowed) <= 2 && len(seen) != len(tc.allowed) {
				t.Fatalf("expected every pool member to receive deals, got %v", seen)
			}
		})
	}
}

func TestAssignForDeal_NoEligibleManager(t *testing.T) {
	repo := store.NewMemoryRepository()
	// manager4 is missing, so the Source 1 pool is empty.
	repo.AddManager(domain.Manager{ID: 1, Email: "manager1@gmail.com"})
	assigner := NewAssigner(repo, domain.DefaultAssignmentConfig(), testLogger())
	deal := createDeal(t, repo, domain.SourceOne)

	_, err := assigner.AssignForDeal(context.Background(), deal, nil)
	if !errors.Is(err, ErrNoEligibleManager) {
		t.Fatalf("expected ErrNoEligibleManager, got %v", err)
	}

	stored, _ := repo.FindDealByID(context.Background(), deal.ID)
	if stored.ManagerID != nil {
		t.Fatal("deal must stay unowned")
	}
	if got := managerCount(t, repo, 1); got != 0 {
		t.Fatalf("expected manager 1 untouched, got %d", got)
	}
}

func TestAssignForDeal_OverrideTakesPrecedence(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedDefaultManagers(repo)
	assigner := NewAssigner(repo, domain.DefaultAssignmentConfig(), testLogger())

	assigned, err := assigner.AssignForDeal(context.Background(), createDeal(t, repo, domain.SourceOne), &domain.AssignmentOverride{Source1Email: "manager3@gmail.com"})
	if err != nil {
		t.Fatalf("AssignForDeal returned error: %v", err)
	}
	if *assigned.ManagerID != 3 {
		t.Fatalf("expected override manager 3, got %d", *assigned.ManagerID)
	}
}

func TestAssignForDeal_ConcurrentCallsDoNotLoseUpdates(t *testing.T) {
	const n = 50
	repo := store.NewMemoryRepository()
	repo.AddManager(domain.Manager{ID: 1, Email: "solo@example.com"})
	assigner := NewAssigner(repo, domain.AssignmentConfig{Source1Email: "solo@example.com"}, testLogger())

	deals := make([]*domain.Deal, n)
	for i := range deals {
		deals[i] = createDeal(t, repo, domain.SourceOne)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n*2)
	for _, deal := range deals {
		// Two callers race on every deal.
		for k := 0; k < 2; k++ {
			wg.Add(1)
			go func(d domain.Deal) {
				defer wg.Done()
				if _, err := assigner.AssignForDeal(context.Background(), &d, nil); err != nil {
					errs <- err
				}
			}(*deal)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("AssignForDeal returned error: %v", err)
	}
	if got := managerCount(t, repo, 1); got != n {
		t.Fatalf("expected %d deals, got %d", n, got)
	}
}

func TestPreviewAssignment_DoesNotWrite(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedDefaultManagers(repo, 2, 1, 1, 1, 1)
	assigner := NewAssigner(repo, domain.DefaultAssignmentConfig(), testLogger())
	deal := createDeal(t, repo, domain.SourceTwo)

	preview, err := assigner.PreviewAssignment(context.Background(), deal, nil)
	if err != nil {
		t.Fatalf("PreviewAssignment returned error: %v", err)
	}
	if preview.Manager == nil || preview.Manager.ID != 2 {
		t.Fatalf("expected manager 2, got %+v", preview.Manager)
	}
	if preview.Pool != domain.PoolPair {
		t.Fatalf("expected pair pool, got %s", preview.Pool)
	}

	stored, _ := repo.FindDealByID(context.Background(), deal.ID)
	if stored.ManagerID != nil || managerCount(t, repo, 2) != 1 {
		t.Fatal("preview must not persist anything")
	}
}
