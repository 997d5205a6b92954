package domain

import (
	"reflect"
	"strings"
	"testing"
)

func TestPoolClassForSource(t *testing.T) {
	tests := []struct {
		source string
		want   PoolClass
	}{
		{source: "Source 1", want: PoolSingle},
		{source: " Source 1 ", want: PoolSingle},
		{source: "Source 2", want: PoolPair},
		{source: "Source 3", want: PoolDefault},
		{source: "Source 4", want: PoolDefault},
		{source: "Source 5", want: PoolDefault},
		{source: "source 1", want: PoolDefault},
		{source: "Website", want: PoolDefault},
		{source: "", want: PoolDefault},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			if got := PoolClassForSource(tt.source); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSelectLeastLoaded_TieBreaksOnLowestID(t *testing.T) {
	managers := []Manager{
		{ID: 10, DealsCount: 3},
		{ID: 12, DealsCount: 1},
		{ID: 11, DealsCount: 1},
	}

	got, ok := SelectLeastLoaded(managers)
	if !ok {
		t.Fatal("expected a manager to be selected")
	}
	if got.ID != 11 {
		t.Fatalf("expected manager 11, got %d", got.ID)
	}
}

func TestSelectLeastLoaded_EmptyPool(t *testing.T) {
	if _, ok := SelectLeastLoaded(nil); ok {
		t.Fatal("expected no selection for an empty pool")
	}
}

func TestAssignmentConfigMerge_OverrideTakesPrecedence(t *testing.T) {
	base := DefaultAssignmentConfig()

	merged := base.Merge(&AssignmentOverride{
		Source1Email:      " lead@example.com ",
		Source2PoolEmails: []string{"a@example.com", " ", "b@example.com"},
	})

	if merged.Source1Email != "lead@example.com" {
		t.Fatalf("expected overridden source1 email, got %q", merged.Source1Email)
	}
	if !reflect.DeepEqual(merged.Source2PoolEmails, []string{"a@example.com", "b@example.com"}) {
		t.Fatalf("unexpected source2 pool: %v", merged.Source2PoolEmails)
	}
	if !reflect.DeepEqual(merged.DefaultPoolEmails, base.DefaultPoolEmails) {
		t.Fatalf("expected default pool to be inherited, got %v", merged.DefaultPoolEmails)
	}

	merged.DefaultPoolEmails[0] = "mutated@example.com"
	if base.DefaultPoolEmails[0] == "mutated@example.com" {
		t.Fatal("merge must not share slices with the base config")
	}
}

func TestAssignmentConfigPoolEmails(t *testing.T) {
	cfg := DefaultAssignmentConfig()

	if got := cfg.PoolEmails(PoolSingle); !reflect.DeepEqual(got, []string{"manager4@gmail.com"}) {
		t.Fatalf("unexpected single pool: %v", got)
	}
	if got := cfg.PoolEmails(PoolPair); len(got) != 2 {
		t.Fatalf("expected two managers in pair pool, got %v", got)
	}
	if got := cfg.PoolEmails(PoolDefault); len(got) != 5 {
		t.Fatalf("expected five managers in default pool, got %v", got)
	}
}

func TestAssignmentConfigValidate(t *testing.T) {
	if err := DefaultAssignmentConfig().Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}

	cfg := AssignmentConfig{
		Source1Email:      "not-an-email",
		Source2PoolEmails: nil,
		DefaultPoolEmails: []string{"ok@example.com"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "source1 email") || !strings.Contains(err.Error(), "source2 pool is empty") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestCustomerAccountName(t *testing.T) {
	tests := []struct {
		name     string
		customer Customer
		want     string
	}{
		{name: "first and last", customer: Customer{ID: 1, FirstName: " Ada ", LastName: "Lovelace"}, want: "Ada Lovelace"},
		{name: "first only", customer: Customer{ID: 1, FirstName: "Ada"}, want: "Ada"},
		{name: "email fallback", customer: Customer{ID: 1, Email: "ada@example.com"}, want: "ada@example.com"},
		{name: "synthesized", customer: Customer{ID: 42}, want: "Customer #42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.customer.AccountName(); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSplitEmailList(t *testing.T) {
	got := SplitEmailList(" a@x.com, ,b@y.com,")
	if !reflect.DeepEqual(got, []string{"a@x.com", "b@y.com"}) {
		t.Fatalf("unexpected list: %v", got)
	}
}
