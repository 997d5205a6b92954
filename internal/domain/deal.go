/**
 * @description
 * Domain models for deals, the customers they belong to and the managers
 * that own them. These are plain data carriers shared by the store, the
 * application services, the HTTP layer and the CRM client.
 */
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Known deal sources. Anything else is treated like the default pool.
const (
	SourceOne   = "Source 1"
	SourceTwo   = "Source 2"
	SourceThree = "Source 3"
	SourceFour  = "Source 4"
	SourceFive  = "Source 5"
)

// KnownSources lists the source labels accepted when a deal is created.
var KnownSources = []string{SourceOne, SourceTwo, SourceThree, SourceFour, SourceFive}

// IsKnownSource reports whether source is one of KnownSources.
func IsKnownSource(source string) bool {
	source = strings.TrimSpace(source)
	for _, s := range KnownSources {
		if s == source {
			return true
		}
	}
	return false
}

// Deal is a unit of work that gets routed to exactly one manager.
// ManagerID is set at most once by the assignment engine.
type Deal struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	CustomerID int64     `json:"customer_id"`
	ManagerID  *int64    `json:"manager_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Loaded relations. Nil when the relation is missing or was not requested.
	Customer *Customer `json:"customer,omitempty"`
	Manager  *Manager  `json:"manager,omitempty"`
}

// IsAssigned reports whether the deal already has an owner.
func (d *Deal) IsAssigned() bool {
	return d != nil && d.ManagerID != nil
}

// Manager is a worker that deals are balanced across.
type Manager struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	DealsCount int64  `json:"deals_count"`
}

// Customer is the local person or company a deal is sold to.
type Customer struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// AccountName returns the name used for the CRM account. It is never empty:
// first+last name, then email, then a synthesized "Customer #<id>".
func (c *Customer) AccountName() string {
	name := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if name != "" {
		return name
	}
	if email := strings.TrimSpace(c.Email); email != "" {
		return email
	}
	return fmt.Sprintf("Customer #%d", c.ID)
}
