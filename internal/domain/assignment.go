package domain

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// PoolClass identifies which manager pool a source is routed to.
type PoolClass int

const (
	// PoolDefault routes to every configured manager.
	PoolDefault PoolClass = iota
	// PoolSingle routes to one fixed manager.
	PoolSingle
	// PoolPair routes to two fixed managers.
	PoolPair
)

func (c PoolClass) String() string {
	switch c {
	case PoolSingle:
		return "single"
	case PoolPair:
		return "pair"
	default:
		return "default"
	}
}

// sourcePoolClasses maps a source label to its pool. Sources that are not
// listed fall back to PoolDefault.
var sourcePoolClasses = map[string]PoolClass{
	SourceOne:   PoolSingle,
	SourceTwo:   PoolPair,
	SourceThree: PoolDefault,
	SourceFour:  PoolDefault,
	SourceFive:  PoolDefault,
}

// PoolClassForSource resolves the pool class by exact label match.
func PoolClassForSource(source string) PoolClass {
	class, ok := sourcePoolClasses[strings.TrimSpace(source)]
	if !ok {
		return PoolDefault
	}
	return class
}

// AssignmentConfig lists the manager emails that make up each pool.
type AssignmentConfig struct {
	Source1Email      string   `json:"source1_email"`
	Source2PoolEmails []string `json:"source2_pool_emails"`
	DefaultPoolEmails []string `json:"default_pool_emails"`
}

// AssignmentOverride replaces individual AssignmentConfig fields for one call.
// Zero values leave the underlying field untouched.
type AssignmentOverride struct {
	Source1Email      string
	Source2PoolEmails []string
	DefaultPoolEmails []string
}

// IsEmpty reports whether the override changes nothing.
func (o *AssignmentOverride) IsEmpty() bool {
	return o == nil || (strings.TrimSpace(o.Source1Email) == "" && len(o.Source2PoolEmails) == 0 && len(o.DefaultPoolEmails) == 0)
}

// DefaultAssignmentConfig returns the built-in pools used when nothing is configured.
func DefaultAssignmentConfig() AssignmentConfig {
	return AssignmentConfig{
		Source1Email:      "manager4@gmail.com",
		Source2PoolEmails: []string{"manager1@gmail.com", "manager2@gmail.com"},
		DefaultPoolEmails: []string{
			"manager1@gmail.com",
			"manager2@gmail.com",
			"manager3@gmail.com",
			"manager4@gmail.com",
			"manager5@gmail.com",
		},
	}
}

// Merge layers o on top of c and returns the result. c is not modified.
func (c AssignmentConfig) Merge(o *AssignmentOverride) AssignmentConfig {
	merged := AssignmentConfig{
		Source1Email:      c.Source1Email,
		Source2PoolEmails: append([]string(nil), c.Source2PoolEmails...),
		DefaultPoolEmails: append([]string(nil), c.DefaultPoolEmails...),
	}
	if o == nil {
		return merged
	}
	if email := strings.TrimSpace(o.Source1Email); email != "" {
		merged.Source1Email = email
	}
	if pool := CleanEmails(o.Source2PoolEmails); len(pool) > 0 {
		merged.Source2PoolEmails = pool
	}
	if pool := CleanEmails(o.DefaultPoolEmails); len(pool) > 0 {
		merged.DefaultPoolEmails = pool
	}
	return merged
}

// PoolEmails returns the manager emails eligible for the given class.
func (c AssignmentConfig) PoolEmails(class PoolClass) []string {
	switch class {
	case PoolSingle:
		if c.Source1Email == "" {
			return nil
		}
		return []string{c.Source1Email}
	case PoolPair:
		return append([]string(nil), c.Source2PoolEmails...)
	default:
		return append([]string(nil), c.DefaultPoolEmails...)
	}
}

// Validate checks that every pool is populated with well-formed addresses.
func (c AssignmentConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Source1Email) == "" {
		errs = append(errs, errors.New("source1 email is empty"))
	} else if _, err := mail.ParseAddress(c.Source1Email); err != nil {
		errs = append(errs, fmt.Errorf("source1 email %q: %w", c.Source1Email, err))
	}
	errs = append(errs, validatePool("source2 pool", c.Source2PoolEmails)...)
	errs = append(errs, validatePool("default pool", c.DefaultPoolEmails)...)
	return errors.Join(errs...)
}

func validatePool(name string, emails []string) []error {
	if len(emails) == 0 {
		return []error{fmt.Errorf("%s is empty", name)}
	}
	var errs []error
	for _, email := range emails {
		if _, err := mail.ParseAddress(email); err != nil {
			errs = append(errs, fmt.Errorf("%s email %q: %w", name, email, err))
		}
	}
	return errs
}

// CleanEmails trims every entry and drops empty ones.
func CleanEmails(emails []string) []string {
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// SplitEmailList parses a comma separated list of emails.
func SplitEmailList(csv string) []string {
	return CleanEmails(strings.Split(csv, ","))
}

// SelectLeastLoaded picks the manager with the fewest deals, breaking ties
// by the lowest id. It reports false when managers is empty.
func SelectLeastLoaded(managers []Manager) (Manager, bool) {
	if len(managers) == 0 {
		return Manager{}, false
	}
	best := managers[0]
	for _, m := range managers[1:] {
		if m.DealsCount < best.DealsCount || (m.DealsCount == best.DealsCount && m.ID < best.ID) {
			best = m
		}
	}
	return best, true
}
