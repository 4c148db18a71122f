// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kelechi-nwosu/exam-registration-core/internal/model"
	"github.com/kelechi-nwosu/exam-registration-core/internal/repository"
)

// LedgerService orchestrates slot purchase, balance, and registration
// admission operations over the ledger.
type LedgerService struct {
	ledger repository.Ledger
	log    *zap.Logger
}

// NewLedgerService constructs a LedgerService with its dependencies.
func NewLedgerService(ledger repository.Ledger, log *zap.Logger) *LedgerService {
	return &LedgerService{ledger: ledger, log: log}
}

// RecordPurchase validates the request and records a pending purchase.
func (s *LedgerService) RecordPurchase(ctx context.Context, req model.PurchaseRequest) (*model.SlotPurchase, error) {
	req.CoordinatorID = strings.TrimSpace(req.CoordinatorID)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, err := s.ledger.CreatePurchase(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}
	s.log.Info("slot purchase recorded",
		zap.String("purchase_id", p.ID),
		zap.String("coordinator_id", p.CoordinatorID),
		zap.Int("slots", p.SlotsPurchased),
	)
	return p, nil
}

// ConfirmPurchase transitions a purchase to completed. Confirming an
// already-completed purchase is an idempotent no-op.
func (s *LedgerService) ConfirmPurchase(ctx context.Context, purchaseID string) (*model.SlotPurchase, error) {
	if purchaseID == "" {
		return nil, &model.ValidationError{Field: "purchaseId", Reason: "is required"}
	}
	p, err := s.ledger.ConfirmPurchase(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("confirm purchase: %w", err)
	}
	s.log.Info("slot purchase confirmed",
		zap.String("purchase_id", p.ID),
		zap.String("coordinator_id", p.CoordinatorID),
	)
	return p, nil
}

// GetBalance returns the coordinator's derived slot balance.
func (s *LedgerService) GetBalance(ctx context.Context, coordinatorID string) (*model.SlotBalance, error) {
	if coordinatorID == "" {
		return nil, &model.ValidationError{Field: "coordinatorId", Reason: "is required"}
	}
	return s.ledger.ComputeBalance(ctx, coordinatorID)
}

// ValidateRegistration is the advisory pre-check consulted before a
// registration form is even submitted. The authoritative decision is made
// again inside Register, because the pre-check and the commit are not atomic.
func (s *LedgerService) ValidateRegistration(ctx context.Context, coordinatorID string, slotsRequired int) (*model.ValidationResult, error) {
	if coordinatorID == "" {
		return nil, &model.ValidationError{Field: "coordinatorId", Reason: "is required"}
	}
	if slotsRequired <= 0 {
		return nil, &model.ValidationError{Field: "slots", Reason: "must be a positive integer"}
	}

	balance, err := s.ledger.ComputeBalance(ctx, coordinatorID)
	if err != nil {
		return nil, fmt.Errorf("validate registration: %w", err)
	}

	res := &model.ValidationResult{
		SlotsRequired: slotsRequired,
		Balance:       balance,
	}
	if balance.AvailableSlots >= slotsRequired {
		res.CanRegister = true
		res.Message = "Registration can proceed"
	} else {
		res.Message = fmt.Sprintf(
			"Insufficient slots. You have %d slot(s) but need %d.",
			balance.AvailableSlots, slotsRequired,
		)
	}
	return res, nil
}

// Register admits a single candidate registration. The admission decision and
// the insert happen atomically in the repository; a ConcurrencyConflict at
// the commit boundary is retried exactly once against the re-read balance,
// and a second conflict is surfaced as quota exhaustion.
func (s *LedgerService) Register(ctx context.Context, req model.RegisterRequest) (*model.Registration, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.CoordinatorID == "" {
		return nil, &model.ValidationError{Field: "coordinatorId", Reason: "is required"}
	}
	if req.FirstName == "" || req.LastName == "" {
		return nil, &model.ValidationError{Field: "name", Reason: "first and last name are required"}
	}

	reg, err := s.ledger.RegisterCandidate(ctx, req)
	if errors.Is(err, repository.ErrConcurrencyConflict) {
		s.log.Warn("registration commit conflict, retrying once",
			zap.String("coordinator_id", req.CoordinatorID))
		reg, err = s.ledger.RegisterCandidate(ctx, req)
		if errors.Is(err, repository.ErrConcurrencyConflict) {
			err = repository.ErrQuotaExceeded
		}
	}
	if err != nil {
		if errors.Is(err, repository.ErrQuotaExceeded) {
			return nil, repository.ErrQuotaExceeded
		}
		return nil, fmt.Errorf("register candidate: %w", err)
	}

	s.log.Info("registration admitted",
		zap.String("registration_id", reg.ID),
		zap.String("coordinator_id", reg.CoordinatorID),
	)
	return reg, nil
}

// Cancel deletes a registration, releasing its slot.
func (s *LedgerService) Cancel(ctx context.Context, registrationID string) error {
	if registrationID == "" {
		return &model.ValidationError{Field: "registrationId", Reason: "is required"}
	}
	if err := s.ledger.CancelRegistration(ctx, registrationID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("cancel registration: %w", err)
	}
	return nil
}
