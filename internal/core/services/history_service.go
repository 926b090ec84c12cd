package services

import (
	"context"
	"fmt"
	"time"

	"vereniging-incasso/internal/adapters/persistence/repositories"
	"vereniging-incasso/internal/pkg/cache"

	"github.com/shopspring/decimal"
)

const historyCacheTTL = 15 * time.Minute

// MemberFinancialHistory is the payment picture for one member, assembled
// from bulk-loaded records rather than per-invoice queries.
type MemberFinancialHistory struct {
	MemberID         uint       `json:"member_id"`
	MemberName       string     `json:"member_name"`
	ActiveMandateRef string     `json:"active_mandate_ref,omitempty"`
	MandateSignDate  *time.Time `json:"mandate_sign_date,omitempty"`
	InvoiceCount     int        `json:"invoice_count"`
	OutstandingTotal string     `json:"outstanding_total"`
	PaidTotal        string     `json:"paid_total"`
	RefreshedAt      time.Time  `json:"refreshed_at"`
}

// HistoryService builds member financial histories with a fixed number of
// queries per refresh, memoizing results keyed by member and modification
// time so unchanged members are served from cache.
type HistoryService struct {
	bulk  repositories.BulkLoader
	store *cache.Store
}

func NewHistoryService(bulk repositories.BulkLoader, store *cache.Store) *HistoryService {
	return &HistoryService{bulk: bulk, store: store}
}

// RefreshHistories builds histories for the given members. modifiedUnix is
// the latest modification timestamp across the members' records; a cache hit
// on (member, modifiedUnix) skips the rebuild entirely.
func (s *HistoryService) RefreshHistories(ctx context.Context, memberIDs []uint, modifiedUnix int64) (map[uint]*MemberFinancialHistory, error) {
	result := make(map[uint]*MemberFinancialHistory, len(memberIDs))

	var missing []uint
	for _, id := range memberIDs {
		if v, ok := s.store.Get(historyCacheKey(id, modifiedUnix)); ok {
			if h, ok := v.(*MemberFinancialHistory); ok {
				result[id] = h
				continue
			}
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	members, err := s.bulk.LoadMembersWithMandates(ctx, missing)
	if err != nil {
		return nil, err
	}
	invoicesByMember, err := s.bulk.LoadInvoicesForMembers(ctx, missing)
	if err != nil {
		return nil, err
	}

	for _, id := range missing {
		mw, ok := members[id]
		if !ok {
			continue
		}

		h := &MemberFinancialHistory{
			MemberID:         id,
			MemberName:       mw.Member.FullName,
			OutstandingTotal: decimal.Zero.StringFixed(2),
			PaidTotal:        decimal.Zero.StringFixed(2),
			RefreshedAt:      time.Now(),
		}
		if mw.Mandate != nil {
			h.ActiveMandateRef = mw.Mandate.MandateRef
			sign := mw.Mandate.SignDate
			h.MandateSignDate = &sign
		}

		outstanding := decimal.Zero
		paid := decimal.Zero
		for _, inv := range invoicesByMember[id] {
			h.InvoiceCount++
			outstanding = outstanding.Add(inv.OutstandingAmount)
			paid = paid.Add(inv.GrandTotal.Sub(inv.OutstandingAmount))
		}
		h.OutstandingTotal = outstanding.StringFixed(2)
		h.PaidTotal = paid.StringFixed(2)

		s.store.Set(historyCacheKey(id, modifiedUnix), h, historyCacheTTL)
		result[id] = h
	}
	return result, nil
}

func historyCacheKey(memberID uint, modifiedUnix int64) string {
	return fmt.Sprintf("history:%d:%d", memberID, modifiedUnix)
}
