package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/leadflow/deal-service/internal/domain"
	"github.com/leadflow/deal-service/internal/store"
)

type publisherStub struct {
	mu     sync.Mutex
	events []domain.DealEvent
}

func (p *publisherStub) PublishDealEvent(ctx context.Context, event domain.DealEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *publisherStub) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type serviceFixture struct {
	repo    *store.MemoryRepository
	pusher  *pusherStub
	events  *publisherStub
	service *DealService
}

func newServiceFixture(mode PushMode) *serviceFixture {
	repo := store.NewMemoryRepository()
	seedDefaultManagers(repo)
	pusher := newPusherStub()
	events := &publisherStub{}
	batch, _ := newTestBatchPusher(pusher)
	assigner := NewAssigner(repo, domain.DefaultAssignmentConfig(), testLogger())
	return &serviceFixture{
		repo:    repo,
		pusher:  pusher,
		events:  events,
		service: NewDealService(repo, assigner, batch, events, mode, testLogger()),
	}
}

func TestCreateDeal_InlineAssignsAndPushes(t *testing.T) {
	f := newServiceFixture(PushInline)

	result, err := f.service.CreateDeal(context.Background(), CreateDealInput{
		Name:     "  Website redesign ",
		Source:   "Source 1",
		Customer: CustomerInput{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
	})
	if err != nil {
		t.Fatalf("CreateDeal returned error: %v", err)
	}
	if result.Deal.Name != "Website redesign" {
		t.Fatalf("expected trimmed name, got %q", result.Deal.Name)
	}
	if result.Deal.ManagerID == nil || *result.Deal.ManagerID != 4 {
		t.Fatalf("expected Source 1 deal to go to manager 4, got %v", result.Deal.ManagerID)
	}
	if result.CRMResponse.CreatedID() != "crm-1" {
		t.Fatalf("expected crm response, got %+v", result.CRMResponse)
	}
	if len(f.pusher.pushed) != 1 || f.pusher.pushed[0] != result.Deal.ID {
		t.Fatalf("expected deal to be pushed once, got %v", f.pusher.pushed)
	}

	expected := []string{domain.EventDealCreated, domain.EventDealManagerAssigned, domain.EventDealCRMSynced}
	got := f.events.types()
	if len(got) != len(expected) {
		t.Fatalf("expected events %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("expected events %v, got %v", expected, got)
		}
	}
}

func TestCreateDeal_AsyncSkipsPush(t *testing.T) {
	f := newServiceFixture(PushAsync)

	result, err := f.service.CreateDeal(context.Background(), CreateDealInput{
		Name:     "Deal",
		Source:   "Source 3",
		Customer: CustomerInput{Email: "bob@example.com"},
	})
	if err != nil {
		t.Fatalf("CreateDeal returned error: %v", err)
	}
	if !result.Deal.IsAssigned() {
		t.Fatal("expected deal to be assigned")
	}
	if result.CRMResponse != nil || len(f.pusher.pushed) != 0 {
		t.Fatal("async mode must not push inline")
	}
}

func TestCreateDeal_PushFailureKeepsDeal(t *testing.T) {
	f := newServiceFixture(PushInline)
	// Deal ids follow the seeded managers 1..5 and the new customer.
	f.pusher.errs[7] = []error{errors.New("INVALID_DATA")}

	result, err := f.service.CreateDeal(context.Background(), CreateDealInput{
		Name:     "Deal",
		Source:   "Source 2",
		Customer: CustomerInput{FirstName: "Grace"},
	})
	if !errors.Is(err, ErrCRMSync) {
		t.Fatalf("expected ErrCRMSync, got %v", err)
	}
	if result == nil || result.Deal.ID != 7 {
		t.Fatalf("expected the persisted deal in the result, got %+v", result)
	}

	stored, findErr := f.repo.FindDealByID(context.Background(), result.Deal.ID)
	if findErr != nil {
		t.Fatalf("deal must stay persisted: %v", findErr)
	}
	if !stored.IsAssigned() {
		t.Fatal("assignment must stay persisted")
	}
	types := f.events.types()
	if types[len(types)-1] != domain.EventDealCRMSyncFailed {
		t.Fatalf("expected a sync failed event, got %v", types)
	}
}

func TestCreateDeal_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input CreateDealInput
		field string
	}{
		{name: "missing name", input: CreateDealInput{Source: "Source 1"}, field: "deal.name"},
		{name: "unknown source", input: CreateDealInput{Name: "Deal", Source: "Source 9"}, field: "deal.source"},
		{name: "bad email", input: CreateDealInput{Name: "Deal", Source: "Source 1", Customer: CustomerInput{Email: "nope"}}, field: "customer.email"},
		{name: "unknown customer", input: CreateDealInput{Name: "Deal", Source: "Source 1", Customer: CustomerInput{ID: 999}}, field: "customer.id"},
		{name: "long first name", input: CreateDealInput{Name: "Deal", Source: "Source 1", Customer: CustomerInput{FirstName: strings.Repeat("a", maxCustomerNameLength+1)}}, field: "customer.first_name"},
		{name: "long last name", input: CreateDealInput{Name: "Deal", Source: "Source 1", Customer: CustomerInput{LastName: strings.Repeat("ё", maxCustomerNameLength+1)}}, field: "customer.last_name"},
		{name: "long email", input: CreateDealInput{Name: "Deal", Source: "Source 1", Customer: CustomerInput{Email: strings.Repeat("a", maxEmailLength) + "@example.com"}}, field: "customer.email"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newServiceFixture(PushInline)
			_, err := f.service.CreateDeal(context.Background(), tc.input)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := vErr.Fields[tc.field]; !ok {
				t.Fatalf("expected %s to be reported, got %v", tc.field, vErr.Fields)
			}
		})
	}
}

func TestCreateDeal_LongNameCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(PushInline)
	first := strings.Repeat("a", maxCustomerNameLength+1)

	_, err := f.service.CreateDeal(ctx, CreateDealInput{Name: "Deal", Source: "Source 1", Customer: CustomerInput{FirstName: first}})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, name := range []string{first, first[:maxCustomerNameLength]} {
		if _, err := f.repo.FindCustomerByName(ctx, name, ""); !errors.Is(err, store.ErrCustomerNotFound) {
			t.Fatalf("expected no customer named %q, got %v", name, err)
		}
	}
	if len(f.pusher.pushed) != 0 {
		t.Fatalf("expected no crm push, got %v", f.pusher.pushed)
	}
}

func TestResolveCustomer(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(PushAsync)
	byEmail := &domain.Customer{Email: "ada@example.com"}
	byName := &domain.Customer{FirstName: "Grace", LastName: "Hopper"}
	_ = f.repo.CreateCustomer(ctx, byEmail)
	_ = f.repo.CreateCustomer(ctx, byName)

	t.Run("by email fills empty names", func(t *testing.T) {
		c, err := f.service.resolveCustomer(ctx, CustomerInput{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
		if err != nil {
			t.Fatalf("resolveCustomer returned error: %v", err)
		}
		if c.ID != byEmail.ID || c.FirstName != "Ada" || c.LastName != "Lovelace" {
			t.Fatalf("unexpected customer %+v", c)
		}
		stored, _ := f.repo.FindCustomerByID(ctx, byEmail.ID)
		if stored.FirstName != "Ada" {
			t.Fatalf("expected names to be persisted, got %+v", stored)
		}
	})

	t.Run("by name fills empty email", func(t *testing.T) {
		c, err := f.service.resolveCustomer(ctx, CustomerInput{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"})
		if err != nil {
			t.Fatalf("resolveCustomer returned error: %v", err)
		}
		if c.ID != byName.ID || c.Email != "grace@example.com" {
			t.Fatalf("unexpected customer %+v", c)
		}
	})

	t.Run("creates when nothing matches", func(t *testing.T) {
		c, err := f.service.resolveCustomer(ctx, CustomerInput{FirstName: "Alan"})
		if err != nil {
			t.Fatalf("resolveCustomer returned error: %v", err)
		}
		if c.ID == byEmail.ID || c.ID == byName.ID || c.FirstName != "Alan" {
			t.Fatalf("expected a new customer, got %+v", c)
		}
	})
}

func TestCreateDeal_NoEligibleManagerLeavesDealUnowned(t *testing.T) {
	repo := store.NewMemoryRepository()
	batch, _ := newTestBatchPusher(newPusherStub())
	service := NewDealService(repo, NewAssigner(repo, domain.DefaultAssignmentConfig(), testLogger()), batch, nil, PushInline, testLogger())

	result, err := service.CreateDeal(context.Background(), CreateDealInput{Name: "Deal", Source: "Source 1", Customer: CustomerInput{FirstName: "Ada"}})
	if !errors.Is(err, ErrNoEligibleManager) {
		t.Fatalf("expected ErrNoEligibleManager, got %v", err)
	}
	if result == nil || result.Deal.IsAssigned() {
		t.Fatalf("expected an unowned deal, got %+v", result)
	}
}
