// Package model defines the core domain types for the exam registration core:
// the slot quota ledger and the asynchronous export job pipeline.
package model

import (
	"fmt"
	"time"
)

// PaymentStatus is the lifecycle of a slot purchase payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// SlotPurchase is one block of registration capacity bought by a coordinator.
// Only completed purchases contribute to the coordinator's available balance.
type SlotPurchase struct {
	ID               string        `json:"id"`
	CoordinatorID    string        `json:"coordinatorId"`
	ChapterID        string        `json:"chapterId"`
	PackageID        string        `json:"packageId"`
	SlotsPurchased   int           `json:"slotsPurchased"`
	AmountPaid       float64       `json:"amountPaid"`
	PaymentStatus    PaymentStatus `json:"paymentStatus"`
	PaymentReference string        `json:"paymentReference"`
	PurchaseDate     time.Time     `json:"purchaseDate"`
}

// SlotBalance is the live, derived view of a coordinator's slot ledger.
// It is computed from purchase and registration facts on every read and is
// never stored.
type SlotBalance struct {
	CoordinatorID       string     `json:"coordinatorId"`
	AvailableSlots      int        `json:"availableSlots"`
	UsedSlots           int        `json:"usedSlots"`
	TotalPurchasedSlots int        `json:"totalPurchasedSlots"`
	LastPurchaseDate    *time.Time `json:"lastPurchaseDate,omitempty"`
	LastUsageDate       *time.Time `json:"lastUsageDate,omitempty"`
}

// Registration is a candidate registration owned by a coordinator. Each live
// registration consumes exactly one slot from the coordinator's pool.
type Registration struct {
	ID            string    `json:"id"`
	CoordinatorID string    `json:"coordinatorId"`
	ChapterID     string    `json:"chapterId"`
	CenterID      string    `json:"centerId"`
	SchoolName    string    `json:"schoolName"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	PaymentStatus string    `json:"paymentStatus"`
	CreatedAt     time.Time `json:"createdAt"`
}

// JobStatus is the export job lifecycle. Transitions are strictly forward:
// preparing -> processing -> completed | error.
type JobStatus string

const (
	JobPreparing  JobStatus = "preparing"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobError      JobStatus = "error"
)

// Terminal reports whether no further transition is permitted.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError
}

// ExportJob is a unit of detached asynchronous export work, observed by
// pollers via whole-record snapshots.
type ExportJob struct {
	ID             string    `json:"id"`
	RequesterID    string    `json:"requesterId"`
	Status         JobStatus `json:"status"`
	Progress       int       `json:"progress"`
	TotalItems     int       `json:"totalItems"`
	ProcessedItems int       `json:"processedItems"`
	DownloadURL    string    `json:"downloadUrl,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ExportFormat selects the artifact the export worker produces.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatXLSX ExportFormat = "xlsx"
)

// ExportFilter narrows the registrations included in an export.
// Empty fields match everything, mirroring the admin "all" selections.
type ExportFilter struct {
	ChapterID     string       `json:"chapterId,omitempty"`
	CenterID      string       `json:"centerId,omitempty"`
	SchoolName    string       `json:"schoolName,omitempty"`
	PaymentStatus string       `json:"paymentStatus,omitempty"`
	Format        ExportFormat `json:"format,omitempty"`
}

// PurchaseRequest is the payload for recording a slot purchase intent.
type PurchaseRequest struct {
	CoordinatorID  string  `json:"coordinatorId"`
	ChapterID      string  `json:"chapterId"`
	PackageID      string  `json:"packageId"`
	SlotsPurchased int     `json:"slotsPurchased"`
	AmountPaid     float64 `json:"amountPaid"`
}

// RegisterRequest is the payload for a single candidate registration.
type RegisterRequest struct {
	CoordinatorID string `json:"coordinatorId"`
	ChapterID     string `json:"chapterId"`
	CenterID      string `json:"centerId"`
	SchoolName    string `json:"schoolName"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
}

// ValidationResult is the advisory answer to "can this coordinator register
// slotsRequired candidates right now". The authoritative decision is made
// again at the commit boundary.
type ValidationResult struct {
	CanRegister   bool         `json:"canRegister"`
	Message       string       `json:"message"`
	SlotsRequired int          `json:"slotsRequired"`
	Balance       *SlotBalance `json:"balance,omitempty"`
}

// BulkResult reports how many registrations a bulk mutation touched.
type BulkResult struct {
	Affected int    `json:"affected"`
	Message  string `json:"message"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidationError marks malformed or out-of-range input. It is returned
// synchronously to the caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validate checks a purchase request before it reaches the ledger.
func (r PurchaseRequest) Validate() error {
	if r.CoordinatorID == "" {
		return &ValidationError{Field: "coordinatorId", Reason: "is required"}
	}
	if r.SlotsPurchased <= 0 {
		return &ValidationError{Field: "slotsPurchased", Reason: "must be a positive integer"}
	}
	if r.AmountPaid < 0 {
		return &ValidationError{Field: "amountPaid", Reason: "cannot be negative"}
	}
	return nil
}
