package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/leadflow/deal-service/internal/domain"
	"github.com/leadflow/deal-service/pkg/crmclient"
)

func TestHandleManagerAssigned(t *testing.T) {
	tests := []struct {
		name        string
		body        func(dealID int64) []byte
		pushErrs    []error
		expectedAck bool
		expectPush  bool
	}{
		{
			name:        "malformed payload is dropped",
			body:        func(int64) []byte { return []byte("{not json") },
			expectedAck: true,
		},
		{
			name:        "missing deal is dropped",
			body:        func(int64) []byte { return eventBody(9999) },
			expectedAck: true,
		},
		{
			name:        "successful push",
			body:        eventBody,
			expectedAck: true,
			expectPush:  true,
		},
		{
			name:        "server error is requeued",
			body:        eventBody,
			pushErrs:    []error{&crmclient.APIError{StatusCode: 503, Body: "unavailable"}},
			expectedAck: false,
		},
		{
			name:        "validation error is acked",
			body:        eventBody,
			pushErrs:    []error{errors.New("INVALID_DATA")},
			expectedAck: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newServiceFixture(PushAsync)
			result, err := f.service.CreateDeal(context.Background(), CreateDealInput{Name: "Deal", Source: "Source 3", Customer: CustomerInput{FirstName: "Ada"}})
			if err != nil {
				t.Fatalf("CreateDeal returned error: %v", err)
			}
			dealID := result.Deal.ID
			if tc.pushErrs != nil {
				f.pusher.errs[dealID] = tc.pushErrs
			}

			handler := NewDealEventHandler(f.service, f.repo, testLogger())
			if got := handler.HandleManagerAssigned(tc.body(dealID)); got != tc.expectedAck {
				t.Fatalf("expected ack=%v, got %v", tc.expectedAck, got)
			}
			if pushed := len(f.pusher.pushed) == 1; pushed != tc.expectPush {
				t.Fatalf("expected push=%v, got %v", tc.expectPush, f.pusher.pushed)
			}
		})
	}
}

func eventBody(dealID int64) []byte {
	body, _ := json.Marshal(domain.DealEvent{EventType: domain.EventDealManagerAssigned, DealID: dealID})
	return body
}
