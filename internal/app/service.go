/**
 * @description
 * DealService owns the deal creation flow: validate the request, resolve or
 * create the customer, persist the deal, run the assignment engine on it and
 * push it to the CRM either inline or through the async sync worker.
 *
 * @dependencies
 * - internal/store: Deal and customer persistence.
 * - pkg/crmclient: The CRM response type returned to callers.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/leadflow/deal-service/internal/domain"
	"github.com/leadflow/deal-service/internal/store"
	"github.com/leadflow/deal-service/pkg/crmclient"
)

const (
	maxDealNameLength     = 191
	maxCustomerNameLength = 100
	maxEmailLength        = 191
)

// PushMode selects when a newly created deal is sent to the CRM.
type PushMode string

const (
	PushInline PushMode = "inline"
	PushAsync  PushMode = "async"
)

var ErrCRMSync = errors.New("crm sync failed")

// ValidationError lists invalid request fields keyed by their dotted path.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// EventPublisher publishes deal lifecycle events.
type EventPublisher interface {
	PublishDealEvent(ctx context.Context, event domain.DealEvent) error
}

// CustomerInput identifies an existing customer by ID or describes one by
// name and email.
type CustomerInput struct {
	ID        int64  `json:"id,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type CreateDealInput struct {
	Name     string
	Source   string
	Customer CustomerInput
}

type CreateDealResult struct {
	Deal        *domain.Deal
	Customer    *domain.Customer
	CRMResponse *crmclient.RecordResponse
}

// DealService creates deals and keeps them in sync with the CRM.
type DealService struct {
	repo     store.Repository
	assigner *Assigner
	pusher   *BatchPusher
	events   EventPublisher
	mode     PushMode
	logger   *slog.Logger
}

func NewDealService(repo store.Repository, assigner *Assigner, pusher *BatchPusher, events EventPublisher, mode PushMode, logger *slog.Logger) *DealService {
	if mode == "" {
		mode = PushInline
	}
	return &DealService{
		repo:     repo,
		assigner: assigner,
		pusher:   pusher,
		events:   events,
		mode:     mode,
		logger:   logger,
	}
}

// ListCustomers returns every customer sorted by first and last name.
func (s *DealService) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

// CreateDeal runs the full creation flow. The deal and its assignment stay
// persisted even when the inline CRM push fails; in that case the result is
// returned together with an error wrapping ErrCRMSync.
func (s *DealService) CreateDeal(ctx context.Context, in CreateDealInput) (*CreateDealResult, error) {
	in = normalizeCreateDealInput(in)
	if err := s.validate(ctx, in); err != nil {
		return nil, err
	}

	customer, err := s.resolveCustomer(ctx, in.Customer)
	if err != nil {
		return nil, err
	}

	deal := &domain.Deal{Name: in.Name, Source: in.Source, CustomerID: customer.ID}
	if err := s.repo.CreateDeal(ctx, deal); err != nil {
		return nil, fmt.Errorf("failed to create deal: %w", err)
	}
	deal.Customer = customer
	s.logger.Info("deal created", "deal_id", deal.ID, "source", deal.Source, "customer_id", customer.ID)
	s.publish(ctx, domain.NewDealEvent(domain.EventDealCreated, deal))

	result := &CreateDealResult{Deal: deal, Customer: customer}

	assigned, err := s.assigner.AssignForDeal(ctx, deal, nil)
	if err != nil {
		return result, err
	}
	result.Deal = assigned
	s.publish(ctx, domain.NewDealEvent(domain.EventDealManagerAssigned, assigned))

	if s.mode == PushAsync {
		return result, nil
	}

	resp, err := s.SyncDeal(ctx, assigned)
	result.CRMResponse = resp
	if err != nil {
		return result, err
	}
	return result, nil
}

// AssignDeal runs the assignment engine on an existing deal.
func (s *DealService) AssignDeal(ctx context.Context, dealID int64) (*domain.Deal, error) {
	deal, err := s.repo.FindDealByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.IsAssigned() {
		return deal, nil
	}
	assigned, err := s.assigner.AssignForDeal(ctx, deal, nil)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.NewDealEvent(domain.EventDealManagerAssigned, assigned))
	return assigned, nil
}

// PushDeal loads a deal and pushes it to the CRM.
func (s *DealService) PushDeal(ctx context.Context, dealID int64) (*domain.Deal, *crmclient.RecordResponse, error) {
	deal, err := s.repo.FindDealByID(ctx, dealID)
	if err != nil {
		return nil, nil, err
	}
	resp, err := s.SyncDeal(ctx, deal)
	return deal, resp, err
}

// SyncDeal pushes deal with the single rate-limit retry and publishes the
// outcome. Failures wrap ErrCRMSync.
func (s *DealService) SyncDeal(ctx context.Context, deal *domain.Deal) (*crmclient.RecordResponse, error) {
	resp, err := s.pusher.PushOne(ctx, deal)
	if err != nil {
		s.logger.Error("crm push failed", "deal_id", deal.ID, "error", err)
		failed := domain.NewDealEvent(domain.EventDealCRMSyncFailed, deal)
		failed.Error = err.Error()
		s.publish(ctx, failed)
		return resp, fmt.Errorf("%w: deal #%d: %w", ErrCRMSync, deal.ID, err)
	}

	synced := domain.NewDealEvent(domain.EventDealCRMSynced, deal)
	synced.CRMDealID = resp.CreatedID()
	s.publish(ctx, synced)
	s.logger.Info("deal pushed to crm", "deal_id", deal.ID, "crm_deal_id", synced.CRMDealID)
	return resp, nil
}

func (s *DealService) publish(ctx context.Context, event domain.DealEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishDealEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish deal event", "event_type", event.EventType, "deal_id", event.DealID, "error", err)
	}
}

func normalizeCreateDealInput(in CreateDealInput) CreateDealInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Source = strings.TrimSpace(in.Source)
	in.Customer.FirstName = strings.TrimSpace(in.Customer.FirstName)
	in.Customer.LastName = strings.TrimSpace(in.Customer.LastName)
	in.Customer.Email = strings.TrimSpace(in.Customer.Email)
	return in
}

func (s *DealService) validate(ctx context.Context, in CreateDealInput) error {
	fields := map[string]string{}

	switch {
	case in.Name == "":
		fields["deal.name"] = "is required"
	case utf8.RuneCountInString(in.Name) > maxDealNameLength:
		fields["deal.name"] = fmt.Sprintf("may not be longer than %d characters", maxDealNameLength)
	}
	if !domain.IsKnownSource(in.Source) {
		fields["deal.source"] = "must be one of " + strings.Join(domain.KnownSources, ", ")
	}

	c := in.Customer
	if c.ID < 0 {
		fields["customer.id"] = "must be a positive integer"
	} else if c.ID > 0 {
		if _, err := s.repo.FindCustomerByID(ctx, c.ID); errors.Is(err, store.ErrCustomerNotFound) {
			fields["customer.id"] = "does not exist"
		} else if err != nil {
			return fmt.Errorf("failed to look up customer: %w", err)
		}
	}
	if utf8.RuneCountInString(c.FirstName) > maxCustomerNameLength {
		fields["customer.first_name"] = fmt.Sprintf("may not be longer than %d characters", maxCustomerNameLength)
	}
	if utf8.RuneCountInString(c.LastName) > maxCustomerNameLength {
		fields["customer.last_name"] = fmt.Sprintf("may not be longer than %d characters", maxCustomerNameLength)
	}
	if c.Email != "" {
		if utf8.RuneCountInString(c.Email) > maxEmailLength {
			fields["customer.email"] = fmt.Sprintf("may not be longer than %d characters", maxEmailLength)
		} else if _, err := mail.ParseAddress(c.Email); err != nil {
			fields["customer.email"] = "must be a valid email address"
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// resolveCustomer finds the customer by id, then by email, then by exact
// first and last name, and creates one when nothing matches. Matches get
// their empty fields filled from the request.
func (s *DealService) resolveCustomer(ctx context.Context, in CustomerInput) (*domain.Customer, error) {
	if in.ID > 0 {
		return s.repo.FindCustomerByID(ctx, in.ID)
	}

	first, last, email := in.FirstName, in.LastName, in.Email

	if email != "" {
		existing, err := s.repo.FindCustomerByEmail(ctx, email)
		switch {
		case err == nil:
			updated := false
			if first != "" && existing.FirstName == "" {
				existing.FirstName = first
				updated = true
			}
			if last != "" && existing.LastName == "" {
				existing.LastName = last
				updated = true
			}
			if updated {
				if err := s.repo.UpdateCustomer(ctx, existing); err != nil {
					return nil, fmt.Errorf("failed to update customer: %w", err)
				}
			}
			return existing, nil
		case !errors.Is(err, store.ErrCustomerNotFound):
			return nil, fmt.Errorf("failed to look up customer by email: %w", err)
		}
	}

	if first != "" || last != "" {
		match, err := s.repo.FindCustomerByName(ctx, first, last)
		switch {
		case err == nil:
			if email != "" && match.Email == "" {
				match.Email = email
				if err := s.repo.UpdateCustomer(ctx, match); err != nil {
					return nil, fmt.Errorf("failed to update customer: %w", err)
				}
			}
			return match, nil
		case !errors.Is(err, store.ErrCustomerNotFound):
			return nil, fmt.Errorf("failed to look up customer by name: %w", err)
		}
	}

	customer := &domain.Customer{FirstName: first, LastName: last, Email: email}
	if err := s.repo.CreateCustomer(ctx, customer); err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	s.logger.Info("customer created", "customer_id", customer.ID)
	return customer, nil
}
