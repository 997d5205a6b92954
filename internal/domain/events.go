package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published on the deal events exchange.
const (
	EventDealCreated         = "deal.created"
	EventDealManagerAssigned = "deal.manager_assigned"
	EventDealCRMSynced       = "deal.crm_synced"
	EventDealCRMSyncFailed   = "deal.crm_sync_failed"
)

// DealEvent is the payload of every deal lifecycle message.
type DealEvent struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	DealID       int64     `json:"deal_id"`
	Source       string    `json:"source"`
	ManagerID    *int64    `json:"manager_id,omitempty"`
	ManagerEmail string    `json:"manager_email,omitempty"`
	CRMDealID    string    `json:"crm_deal_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewDealEvent builds an event snapshot of deal.
func NewDealEvent(eventType string, deal *Deal) DealEvent {
	event := DealEvent{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		DealID:     deal.ID,
		Source:     deal.Source,
		ManagerID:  deal.ManagerID,
		OccurredAt: time.Now().UTC(),
	}
	if deal.Manager != nil {
		event.ManagerEmail = deal.Manager.Email
	}
	return event
}
