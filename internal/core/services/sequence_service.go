package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vereniging-incasso/internal/adapters/persistence/models"
	"vereniging-incasso/internal/adapters/persistence/repositories"

	"github.com/shopspring/decimal"
)

var (
	ErrMandateNotFound  = errors.New("mandate not found")
	ErrMandateNotActive = errors.New("mandate is not active")
	ErrMandateExpired   = errors.New("mandate has expired")
	ErrAmountExceedsCap = errors.New("amount exceeds mandate maximum")
)

// SequenceResolution is the outcome of resolving a mandate's sequence type
// for one collection.
type SequenceResolution struct {
	MandateID    uint   `json:"mandate_id"`
	SequenceType string `json:"sequence_type"`
	Reason       string `json:"reason"`
}

// SequencePair identifies one mandate/invoice combination to resolve
type SequencePair struct {
	MandateID uint
	InvoiceID uint
}

// SequenceService decides whether a collection must be submitted as a first
// (FRST) or recurring (RCUR) direct debit, based on the mandate's collected
// usage history.
type SequenceService struct {
	mandateRepo repositories.MandateRepository
}

func NewSequenceService(mandateRepo repositories.MandateRepository) *SequenceService {
	return &SequenceService{mandateRepo: mandateRepo}
}

// ResolveSequenceType determines FRST or RCUR for a single mandate. The
// invoice being collected is excluded from the history so re-runs of the same
// batch do not flip the answer. A mandate with no collected usage, or one
// signed after its latest collected usage, is treated as first use.
func (s *SequenceService) ResolveSequenceType(ctx context.Context, mandateID uint, excludeInvoiceID uint) (*SequenceResolution, error) {
	mandate, err := s.mandateRepo.GetByID(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	if mandate == nil {
		return nil, ErrMandateNotFound
	}

	latest, err := s.mandateRepo.LatestCollectedUsage(ctx, mandateID, excludeInvoiceID)
	if err != nil {
		return nil, err
	}

	return resolveFromHistory(mandate, latest), nil
}

// ResolveSequenceTypesBatch resolves sequence types for many mandate/invoice
// pairs using one mandate query and one usage-history query. Results are keyed
// by pair, and each pair excludes only its own invoice from the history, so
// two collections on the same mandate can resolve differently.
func (s *SequenceService) ResolveSequenceTypesBatch(ctx context.Context, pairs []SequencePair) (map[SequencePair]*SequenceResolution, error) {
	results := make(map[SequencePair]*SequenceResolution, len(pairs))
	if len(pairs) == 0 {
		return results, nil
	}

	seen := make(map[uint]bool, len(pairs))
	var mandateIDs []uint
	for _, p := range pairs {
		if !seen[p.MandateID] {
			seen[p.MandateID] = true
			mandateIDs = append(mandateIDs, p.MandateID)
		}
	}

	mandates, err := s.mandateRepo.GetByIDs(ctx, mandateIDs)
	if err != nil {
		return nil, err
	}
	usagesByMandate, err := s.mandateRepo.CollectedUsagesForMandates(ctx, mandateIDs)
	if err != nil {
		return nil, err
	}

	for _, p := range pairs {
		mandate := mandates[p.MandateID]
		if mandate == nil {
			return nil, fmt.Errorf("%w: id %d", ErrMandateNotFound, p.MandateID)
		}

		var latest *models.MandateUsage
		for i := range usagesByMandate[p.MandateID] {
			u := usagesByMandate[p.MandateID][i]
			if p.InvoiceID != 0 && u.InvoiceID == p.InvoiceID {
				continue
			}
			// usages arrive ordered newest first
			latest = &u
			break
		}

		results[p] = resolveFromHistory(mandate, latest)
	}

	return results, nil
}

func resolveFromHistory(mandate *models.SEPAMandate, latest *models.MandateUsage) *SequenceResolution {
	if latest == nil {
		return &SequenceResolution{
			MandateID:    mandate.ID,
			SequenceType: models.SequenceTypeFirst,
			Reason:       "no prior collected usage on this mandate",
		}
	}
	if mandate.SignDate.After(latest.UsageDate) {
		return &SequenceResolution{
			MandateID:    mandate.ID,
			SequenceType: models.SequenceTypeFirst,
			Reason:       "mandate re-signed after its last collected usage",
		}
	}
	return &SequenceResolution{
		MandateID:    mandate.ID,
		SequenceType: models.SequenceTypeRecurring,
		Reason:       fmt.Sprintf("collected usage on %s", latest.UsageDate.Format("2006-01-02")),
	}
}

// ValidateMandateForCollection checks that a mandate may be charged the given
// amount on the given date before a usage record is written.
func (s *SequenceService) ValidateMandateForCollection(mandate *models.SEPAMandate, amount decimal.Decimal, collectionDate time.Time) error {
	if mandate.Status != models.MandateStatusActive {
		return fmt.Errorf("%w: mandate %s is %s", ErrMandateNotActive, mandate.MandateRef, mandate.Status)
	}
	if mandate.IsExpired(collectionDate) {
		return fmt.Errorf("%w: mandate %s expired %s", ErrMandateExpired, mandate.MandateRef, mandate.ExpiryDate.Format("2006-01-02"))
	}
	if mandate.MaximumAmount != nil && amount.GreaterThan(*mandate.MaximumAmount) {
		return fmt.Errorf("%w: %s > %s on mandate %s", ErrAmountExceedsCap, amount.StringFixed(2), mandate.MaximumAmount.StringFixed(2), mandate.MandateRef)
	}
	return nil
}

// RecordUsage validates the mandate and writes a pending usage record for the
// collection. The unique usage index makes duplicate writes for the same
// mandate, invoice and date fail at the store.
func (s *SequenceService) RecordUsage(ctx context.Context, mandate *models.SEPAMandate, invoiceID uint, amount decimal.Decimal, sequenceType string, usageDate time.Time) (*models.MandateUsage, error) {
	if err := s.ValidateMandateForCollection(mandate, amount, usageDate); err != nil {
		return nil, err
	}

	usage := &models.MandateUsage{
		MandateID:    mandate.ID,
		InvoiceID:    invoiceID,
		UsageDate:    usageDate,
		Amount:       amount,
		SequenceType: sequenceType,
		Status:       models.UsageStatusPending,
	}
	if err := s.mandateRepo.CreateUsage(ctx, usage); err != nil {
		return nil, err
	}
	return usage, nil
}
