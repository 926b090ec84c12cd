package services

import (
	"context"
	"testing"

	"vereniging-incasso/internal/adapters/persistence/models"
	"vereniging-incasso/internal/adapters/persistence/repositories"
	"vereniging-incasso/internal/pkg/cache"

	"github.com/shopspring/decimal"
)

// mockBulkLoader counts loader calls so caching behavior is observable
type mockBulkLoader struct {
	members   map[uint]repositories.MemberWithMandate
	invoices  map[uint][]models.Invoice
	addresses map[uint]repositories.StructuredAddress
	details   map[uint]repositories.InvoiceDetails

	memberCalls  int
	invoiceCalls int
}

func (m *mockBulkLoader) LoadMembersWithMandates(_ context.Context, memberIDs []uint) (map[uint]repositories.MemberWithMandate, error) {
	m.memberCalls++
	result := make(map[uint]repositories.MemberWithMandate)
	for _, id := range memberIDs {
		if mw, ok := m.members[id]; ok {
			result[id] = mw
		}
	}
	return result, nil
}

func (m *mockBulkLoader) LoadInvoicesWithDetails(_ context.Context, invoiceIDs []uint) (map[uint]repositories.InvoiceDetails, error) {
	result := make(map[uint]repositories.InvoiceDetails)
	for _, id := range invoiceIDs {
		if d, ok := m.details[id]; ok {
			result[id] = d
		}
	}
	return result, nil
}

func (m *mockBulkLoader) LoadInvoicesForMembers(_ context.Context, memberIDs []uint) (map[uint][]models.Invoice, error) {
	m.invoiceCalls++
	result := make(map[uint][]models.Invoice)
	for _, id := range memberIDs {
		result[id] = m.invoices[id]
	}
	return result, nil
}

func (m *mockBulkLoader) LoadMemberAddresses(_ context.Context, memberIDs []uint) (map[uint]repositories.StructuredAddress, error) {
	result := make(map[uint]repositories.StructuredAddress)
	for _, id := range memberIDs {
		if addr, ok := m.addresses[id]; ok {
			result[id] = addr
		}
	}
	return result, nil
}

func (m *mockBulkLoader) Stats() repositories.BulkStats {
	return repositories.BulkStats{}
}

func TestRefreshHistories(t *testing.T) {
	newLoader := func() *mockBulkLoader {
		return &mockBulkLoader{
			members: map[uint]repositories.MemberWithMandate{
				1: {
					Member:  models.Member{ID: 1, FullName: "J. Jansen"},
					Mandate: activeMandate(1, date(2025, 1, 10)),
				},
			},
			invoices: map[uint][]models.Invoice{
				1: {
					{ID: 100, MemberID: 1, GrandTotal: decimal.NewFromInt(25), OutstandingAmount: decimal.NewFromInt(25)},
					{ID: 101, MemberID: 1, GrandTotal: decimal.NewFromInt(25), OutstandingAmount: decimal.Zero},
				},
			},
		}
	}

	t.Run("Given a member with paid and unpaid invoices When refreshing Then totals split correctly", func(t *testing.T) {
		store := cache.New()
		defer store.Close()
		loader := newLoader()
		svc := NewHistoryService(loader, store)

		histories, err := svc.RefreshHistories(context.Background(), []uint{1}, 1000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		h := histories[1]
		if h == nil {
			t.Fatal("expected a history for member 1")
		}
		if h.InvoiceCount != 2 {
			t.Errorf("expected 2 invoices, got %d", h.InvoiceCount)
		}
		if h.OutstandingTotal != "25.00" {
			t.Errorf("expected outstanding 25.00, got %s", h.OutstandingTotal)
		}
		if h.PaidTotal != "25.00" {
			t.Errorf("expected paid 25.00, got %s", h.PaidTotal)
		}
		if h.ActiveMandateRef != "M-0001" {
			t.Errorf("expected mandate ref M-0001, got %s", h.ActiveMandateRef)
		}
	})

	t.Run("Given an unchanged member When refreshing again Then the cached history is served", func(t *testing.T) {
		store := cache.New()
		defer store.Close()
		loader := newLoader()
		svc := NewHistoryService(loader, store)

		if _, err := svc.RefreshHistories(context.Background(), []uint{1}, 1000); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := svc.RefreshHistories(context.Background(), []uint{1}, 1000); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if loader.memberCalls != 1 || loader.invoiceCalls != 1 {
			t.Errorf("expected one loader pass, got members=%d invoices=%d", loader.memberCalls, loader.invoiceCalls)
		}
	})

	t.Run("Given a modified member When refreshing with a newer timestamp Then the history rebuilds", func(t *testing.T) {
		store := cache.New()
		defer store.Close()
		loader := newLoader()
		svc := NewHistoryService(loader, store)

		if _, err := svc.RefreshHistories(context.Background(), []uint{1}, 1000); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := svc.RefreshHistories(context.Background(), []uint{1}, 2000); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if loader.memberCalls != 2 {
			t.Errorf("expected a rebuild on the new timestamp, got %d loader passes", loader.memberCalls)
		}
	})

	t.Run("Given an unknown member When refreshing Then it is simply absent", func(t *testing.T) {
		store := cache.New()
		defer store.Close()
		svc := NewHistoryService(newLoader(), store)

		histories, err := svc.RefreshHistories(context.Background(), []uint{99}, 1000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(histories) != 0 {
			t.Errorf("expected no histories, got %+v", histories)
		}
	})
}
