/**
 * @description
 * This file defines the `Repository` interface, the contract for every data
 * access operation the deal-service needs. Business logic depends on this
 * interface only, so the PostgreSQL implementation can be swapped for the
 * in-memory one in tests.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/leadflow/deal-service/internal/domain"
)

var (
	ErrDealNotFound        = errors.New("deal not found")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrDealAlreadyAssigned = errors.New("deal already has a manager")
	ErrNoEligibleManager   = errors.New("no available manager for assignment")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Deal methods
	CreateDeal(ctx context.Context, deal *domain.Deal) error
	FindDealByID(ctx context.Context, dealID int64) (*domain.Deal, error)
	FindDealsByIDs(ctx context.Context, dealIDs []int64) ([]domain.Deal, error)
	// ListDeals pages through every deal ordered by id, starting after afterID.
	ListDeals(ctx context.Context, afterID int64, limit int) ([]domain.Deal, error)
	// FindUnassignedDeals pages through deals without a manager ordered by id.
	FindUnassignedDeals(ctx context.Context, afterID int64, limit int) ([]domain.Deal, error)

	// Assignment methods
	// AssignManagerAtomic locks the deal and the managers whose email is in
	// poolEmails, sets the least loaded one as the deal owner and increments
	// its deals_count. Both writes commit together or not at all.
	AssignManagerAtomic(ctx context.Context, dealID int64, poolEmails []string) (*domain.Manager, error)
	FindManagersByEmails(ctx context.Context, emails []string) ([]domain.Manager, error)

	// Customer methods
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	FindCustomerByID(ctx context.Context, customerID int64) (*domain.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error)
	FindCustomerByName(ctx context.Context, firstName, lastName string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer *domain.Customer) error
	UpdateCustomer(ctx context.Context, customer *domain.Customer) error
}
