package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kelechi-nwosu/exam-registration-core/internal/model"
	"github.com/kelechi-nwosu/exam-registration-core/internal/repository"
)

// BulkService applies batched state changes to many registrations. Deletions
// interact with the ledger's usage count: because balances derive from the
// live registration count, a bulk delete releases the corresponding slots in
// the same committed state, and a subsequent balance read never undercounts
// available capacity.
type BulkService struct {
	regs repository.BulkMutator
	log  *zap.Logger
}

// NewBulkService constructs a BulkService.
func NewBulkService(regs repository.BulkMutator, log *zap.Logger) *BulkService {
	return &BulkService{regs: regs, log: log}
}

func validateIDs(ids []string) error {
	if len(ids) == 0 {
		return &model.ValidationError{Field: "registrationIds", Reason: "at least one id is required"}
	}
	for _, id := range ids {
		if id == "" {
			return &model.ValidationError{Field: "registrationIds", Reason: "ids cannot be empty"}
		}
	}
	return nil
}

// Delete removes the given registrations and releases their slots.
func (s *BulkService) Delete(ctx context.Context, ids []string) (*model.BulkResult, error) {
	if err := validateIDs(ids); err != nil {
		return nil, err
	}
	n, err := s.regs.BulkDelete(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("bulk delete: %w", err)
	}
	s.log.Info("bulk delete applied", zap.Int("deleted", n))
	return &model.BulkResult{
		Affected: n,
		Message:  fmt.Sprintf("Successfully deleted %d registrations", n),
	}, nil
}

// ChangeCenter reassigns the given registrations to a new exam center.
func (s *BulkService) ChangeCenter(ctx context.Context, ids []string, centerID string) (*model.BulkResult, error) {
	if err := validateIDs(ids); err != nil {
		return nil, err
	}
	if centerID == "" {
		return nil, &model.ValidationError{Field: "centerId", Reason: "is required"}
	}
	n, err := s.regs.BulkChangeCenter(ctx, ids, centerID)
	if err != nil {
		return nil, fmt.Errorf("bulk change center: %w", err)
	}
	return &model.BulkResult{
		Affected: n,
		Message:  fmt.Sprintf("Successfully updated %d registrations", n),
	}, nil
}

// ChangeChapter reassigns the given registrations to a new chapter.
func (s *BulkService) ChangeChapter(ctx context.Context, ids []string, chapterID string) (*model.BulkResult, error) {
	if err := validateIDs(ids); err != nil {
		return nil, err
	}
	if chapterID == "" {
		return nil, &model.ValidationError{Field: "chapterId", Reason: "is required"}
	}
	n, err := s.regs.BulkChangeChapter(ctx, ids, chapterID)
	if err != nil {
		return nil, fmt.Errorf("bulk change chapter: %w", err)
	}
	return &model.BulkResult{
		Affected: n,
		Message:  fmt.Sprintf("Successfully updated %d registrations", n),
	}, nil
}

// ChangePaymentStatus updates the payment status of the given registrations.
func (s *BulkService) ChangePaymentStatus(ctx context.Context, ids []string, status string) (*model.BulkResult, error) {
	if err := validateIDs(ids); err != nil {
		return nil, err
	}
	if status != "pending" && status != "completed" {
		return nil, &model.ValidationError{Field: "paymentStatus", Reason: "must be pending or completed"}
	}
	n, err := s.regs.BulkChangePaymentStatus(ctx, ids, status)
	if err != nil {
		return nil, fmt.Errorf("bulk change payment status: %w", err)
	}
	return &model.BulkResult{
		Affected: n,
		Message:  fmt.Sprintf("Successfully updated %d registrations", n),
	}, nil
}
