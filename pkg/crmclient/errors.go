package crmclient

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingCustomer = errors.New("deal has no customer")
	ErrRemoteIDMissing = errors.New("crm did not return a record id")
)

// APIError is returned for any non-2xx CRM response. Body is the raw payload.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm api %s %s failed with status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

var rateLimitPhrases = []string{
	"too many requests",
	"please try again after some time",
	"rate limit",
}

// IsRateLimitError reports whether err looks like a CRM rate-limit rejection.
// A wrapped APIError is judged by its status and body only, so ids in the
// surrounding message never match.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || containsRateLimitPhrase(apiErr.Body)
	}
	msg := err.Error()
	return containsRateLimitPhrase(msg) || strings.Contains(msg, "429")
}

func containsRateLimitPhrase(s string) bool {
	s = strings.ToLower(s)
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}
