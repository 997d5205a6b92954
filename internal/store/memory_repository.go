package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leadflow/deal-service/internal/domain"
)

// MemoryRepository is an in-process Repository. A single mutex guards all
// state, so AssignManagerAtomic is one critical section for every pool.
type MemoryRepository struct {
	mu        sync.Mutex
	deals     map[int64]domain.Deal
	managers  map[int64]domain.Manager
	customers map[int64]domain.Customer
	nextID    int64
	now       func() time.Time
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		deals:     make(map[int64]domain.Deal),
		managers:  make(map[int64]domain.Manager),
		customers: make(map[int64]domain.Customer),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) allocID() int64 {
	r.nextID++
	return r.nextID
}

// AddManager stores a manager. A zero ID is replaced by a generated one.
func (r *MemoryRepository) AddManager(m domain.Manager) domain.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == 0 {
		m.ID = r.allocID()
	} else if m.ID > r.nextID {
		r.nextID = m.ID
	}
	r.managers[m.ID] = m
	return m
}

// Manager returns a copy of the stored manager.
func (r *MemoryRepository) Manager(id int64) (domain.Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[id]
	return m, ok
}

func (r *MemoryRepository) withRelations(d domain.Deal) domain.Deal {
	if c, ok := r.customers[d.CustomerID]; ok {
		d.Customer = &c
	} else {
		d.Customer = nil
	}
	d.Manager = nil
	if d.ManagerID != nil {
		id := *d.ManagerID
		d.ManagerID = &id
		if m, ok := r.managers[id]; ok {
			d.Manager = &m
		}
	}
	return d
}

func (r *MemoryRepository) CreateDeal(ctx context.Context, deal *domain.Deal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	deal.ID = r.allocID()
	deal.CreatedAt = now
	deal.UpdatedAt = now
	stored := *deal
	stored.Customer = nil
	stored.Manager = nil
	r.deals[deal.ID] = stored
	return nil
}

func (r *MemoryRepository) FindDealByID(ctx context.Context, dealID int64) (*domain.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deals[dealID]
	if !ok {
		return nil, ErrDealNotFound
	}
	d = r.withRelations(d)
	return &d, nil
}

func (r *MemoryRepository) FindDealsByIDs(ctx context.Context, dealIDs []int64) ([]domain.Deal, error) {
	wanted := make(map[int64]bool, len(dealIDs))
	for _, id := range dealIDs {
		wanted[id] = true
	}
	return r.page(func(d domain.Deal) bool { return wanted[d.ID] }, 0, 0), nil
}

func (r *MemoryRepository) ListDeals(ctx context.Context, afterID int64, limit int) ([]domain.Deal, error) {
	return r.page(func(domain.Deal) bool { return true }, afterID, limit), nil
}

func (r *MemoryRepository) FindUnassignedDeals(ctx context.Context, afterID int64, limit int) ([]domain.Deal, error) {
	return r.page(func(d domain.Deal) bool { return d.ManagerID == nil }, afterID, limit), nil
}

func (r *MemoryRepository) page(match func(domain.Deal) bool, afterID int64, limit int) []domain.Deal {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Deal
	for _, d := range r.deals {
		if d.ID > afterID && match(d) {
			out = append(out, r.withRelations(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryRepository) AssignManagerAtomic(ctx context.Context, dealID int64, poolEmails []string) (*domain.Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deal, ok := r.deals[dealID]
	if !ok {
		return nil, ErrDealNotFound
	}
	if deal.ManagerID != nil {
		return nil, ErrDealAlreadyAssigned
	}

	selected, ok := domain.SelectLeastLoaded(r.managersByEmail(poolEmails))
	if !ok {
		return nil, ErrNoEligibleManager
	}

	managerID := selected.ID
	deal.ManagerID = &managerID
	deal.UpdatedAt = r.now()
	selected.DealsCount++
	r.deals[dealID] = deal
	r.managers[selected.ID] = selected
	return &selected, nil
}

func (r *MemoryRepository) FindManagersByEmails(ctx context.Context, emails []string) ([]domain.Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.managersByEmail(emails), nil
}

func (r *MemoryRepository) managersByEmail(emails []string) []domain.Manager {
	wanted := make(map[string]bool, len(emails))
	for _, e := range emails {
		wanted[e] = true
	}
	var out []domain.Manager
	for _, m := range r.managers {
		if wanted[m.Email] {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryRepository) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Customer, 0, len(r.customers))
	for _, c := range r.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstName != out[j].FirstName {
			return out[i].FirstName < out[j].FirstName
		}
		return out[i].LastName < out[j].LastName
	})
	return out, nil
}

func (r *MemoryRepository) findCustomer(match func(domain.Customer) bool) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *domain.Customer
	for _, c := range r.customers {
		if match(c) && (found == nil || c.ID < found.ID) {
			c := c
			found = &c
		}
	}
	if found == nil {
		return nil, ErrCustomerNotFound
	}
	return found, nil
}

func (r *MemoryRepository) FindCustomerByID(ctx context.Context, customerID int64) (*domain.Customer, error) {
	return r.findCustomer(func(c domain.Customer) bool { return c.ID == customerID })
}

func (r *MemoryRepository) FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return r.findCustomer(func(c domain.Customer) bool { return c.Email != "" && c.Email == email })
}

func (r *MemoryRepository) FindCustomerByName(ctx context.Context, firstName, lastName string) (*domain.Customer, error) {
	return r.findCustomer(func(c domain.Customer) bool { return c.FirstName == firstName && c.LastName == lastName })
}

func (r *MemoryRepository) CreateCustomer(ctx context.Context, customer *domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	customer.ID = r.allocID()
	r.customers[customer.ID] = *customer
	return nil
}

func (r *MemoryRepository) UpdateCustomer(ctx context.Context, customer *domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.customers[customer.ID]; !ok {
		return ErrCustomerNotFound
	}
	r.customers[customer.ID] = *customer
	return nil
}
