/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Manager assignment runs inside a single transaction that row-locks the deal
 * and the eligible managers, so concurrent assignments serialize at the lock.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leadflow/deal-service/internal/domain"
)

const dealSelectColumns = `
	SELECT d.id, d.name, d.source, d.customer_id, d.manager_id, d.created_at, d.updated_at,
	       c.id, COALESCE(c.first_name, ''), COALESCE(c.last_name, ''), COALESCE(c.email, ''),
	       m.id, COALESCE(m.email, ''), COALESCE(m.deals_count, 0)
	FROM deals d
	LEFT JOIN customers c ON c.id = d.customer_id
	LEFT JOIN managers m ON m.id = d.manager_id
`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row rowScanner) (*domain.Deal, error) {
	var (
		deal         domain.Deal
		customerID   *int64
		customer     domain.Customer
		managerID    *int64
		managerEmail string
		managerDeals int64
	)
	err := row.Scan(
		&deal.ID, &deal.Name, &deal.Source, &deal.CustomerID, &deal.ManagerID, &deal.CreatedAt, &deal.UpdatedAt,
		&customerID, &customer.FirstName, &customer.LastName, &customer.Email,
		&managerID, &managerEmail, &managerDeals,
	)
	if err != nil {
		return nil, err
	}
	if customerID != nil {
		customer.ID = *customerID
		deal.Customer = &customer
	}
	if managerID != nil {
		deal.Manager = &domain.Manager{ID: *managerID, Email: managerEmail, DealsCount: managerDeals}
	}
	return &deal, nil
}

func collectDeals(rows pgx.Rows) ([]domain.Deal, error) {
	defer rows.Close()
	var deals []domain.Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *deal)
	}
	return deals, rows.Err()
}

// CreateDeal inserts a deal and fills in its generated id and timestamps.
func (r *PostgresRepository) CreateDeal(ctx context.Context, deal *domain.Deal) error {
	query := `
		INSERT INTO deals (name, source, customer_id, manager_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query, deal.Name, deal.Source, deal.CustomerID, deal.ManagerID).
		Scan(&deal.ID, &deal.CreatedAt, &deal.UpdatedAt)
}

// FindDealByID retrieves a deal together with its customer and manager.
func (r *PostgresRepository) FindDealByID(ctx context.Context, dealID int64) (*domain.Deal, error) {
	deal, err := scanDeal(r.db.QueryRow(ctx, dealSelectColumns+` WHERE d.id = $1`, dealID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}
	return deal, nil
}

// FindDealsByIDs retrieves the given deals ordered by id. Unknown ids are skipped.
func (r *PostgresRepository) FindDealsByIDs(ctx context.Context, dealIDs []int64) ([]domain.Deal, error) {
	if len(dealIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, dealSelectColumns+` WHERE d.id = ANY($1) ORDER BY d.id`, dealIDs)
	if err != nil {
		return nil, err
	}
	return collectDeals(rows)
}

// ListDeals pages through all deals by id.
func (r *PostgresRepository) ListDeals(ctx context.Context, afterID int64, limit int) ([]domain.Deal, error) {
	rows, err := r.db.Query(ctx, dealSelectColumns+` WHERE d.id > $1 ORDER BY d.id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectDeals(rows)
}

// FindUnassignedDeals pages through deals with a NULL manager_id by id.
func (r *PostgresRepository) FindUnassignedDeals(ctx context.Context, afterID int64, limit int) ([]domain.Deal, error) {
	rows, err := r.db.Query(ctx, dealSelectColumns+` WHERE d.manager_id IS NULL AND d.id > $1 ORDER BY d.id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectDeals(rows)
}

// AssignManagerAtomic performs the whole assignment in one transaction.
// Locks are always taken deal first, then managers by ascending id, so
// concurrent callers with overlapping pools cannot deadlock.
func (r *PostgresRepository) AssignManagerAtomic(ctx context.Context, dealID int64, poolEmails []string) (*domain.Manager, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin assignment transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentManager *int64
	err = tx.QueryRow(ctx, `SELECT manager_id FROM deals WHERE id = $1 FOR UPDATE`, dealID).Scan(&currentManager)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}
	if currentManager != nil {
		return nil, ErrDealAlreadyAssigned
	}

	rows, err := tx.Query(ctx, `
		SELECT id, email, deals_count
		FROM managers
		WHERE email = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, poolEmails)
	if err != nil {
		return nil, err
	}
	pool, err := collectManagers(rows)
	if err != nil {
		return nil, err
	}

	selected, ok := domain.SelectLeastLoaded(pool)
	if !ok {
		return nil, ErrNoEligibleManager
	}

	if _, err := tx.Exec(ctx, `UPDATE deals SET manager_id = $1, updated_at = NOW() WHERE id = $2`, selected.ID, dealID); err != nil {
		return nil, fmt.Errorf("failed to set deal manager: %w", err)
	}
	err = tx.QueryRow(ctx, `
		UPDATE managers SET deals_count = deals_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING deals_count
	`, selected.ID).Scan(&selected.DealsCount)
	if err != nil {
		return nil, fmt.Errorf("failed to increment manager deals_count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}
	return &selected, nil
}

// FindManagersByEmails reads managers without locking them.
func (r *PostgresRepository) FindManagersByEmails(ctx context.Context, emails []string) ([]domain.Manager, error) {
	rows, err := r.db.Query(ctx, `SELECT id, email, deals_count FROM managers WHERE email = ANY($1) ORDER BY id`, emails)
	if err != nil {
		return nil, err
	}
	return collectManagers(rows)
}

func collectManagers(rows pgx.Rows) ([]domain.Manager, error) {
	defer rows.Close()
	var managers []domain.Manager
	for rows.Next() {
		var m domain.Manager
		if err := rows.Scan(&m.ID, &m.Email, &m.DealsCount); err != nil {
			return nil, err
		}
		managers = append(managers, m)
	}
	return managers, rows.Err()
}

const customerSelectColumns = `SELECT id, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(email, '') FROM customers`

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	if err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListCustomers returns all customers sorted by first and last name.
func (r *PostgresRepository) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := r.db.Query(ctx, customerSelectColumns+` ORDER BY first_name, last_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := []domain.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

func (r *PostgresRepository) FindCustomerByID(ctx context.Context, customerID int64) (*domain.Customer, error) {
	return scanCustomer(r.db.QueryRow(ctx, customerSelectColumns+` WHERE id = $1`, customerID))
}

func (r *PostgresRepository) FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return scanCustomer(r.db.QueryRow(ctx, customerSelectColumns+` WHERE email = $1 ORDER BY id LIMIT 1`, email))
}

func (r *PostgresRepository) FindCustomerByName(ctx context.Context, firstName, lastName string) (*domain.Customer, error) {
	return scanCustomer(r.db.QueryRow(ctx,
		customerSelectColumns+` WHERE COALESCE(first_name, '') = $1 AND COALESCE(last_name, '') = $2 ORDER BY id LIMIT 1`,
		firstName, lastName,
	))
}

// CreateCustomer inserts a customer. An empty email is stored as NULL.
func (r *PostgresRepository) CreateCustomer(ctx context.Context, customer *domain.Customer) error {
	query := `
		INSERT INTO customers (first_name, last_name, email, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NOW(), NOW())
		RETURNING id
	`
	return r.db.QueryRow(ctx, query, customer.FirstName, customer.LastName, customer.Email).Scan(&customer.ID)
}

func (r *PostgresRepository) UpdateCustomer(ctx context.Context, customer *domain.Customer) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE customers
		SET first_name = $2, last_name = $3, email = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $1
	`, customer.ID, customer.FirstName, customer.LastName, customer.Email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}
