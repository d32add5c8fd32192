package transfers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// ============================================================================
// TRANSFER STATUS
// ============================================================================

// Status is the lifecycle state of a transfer.
type Status string

const (
	StatusDraft    Status = "draft"    // Saved by the requester, not yet submitted
	StatusPending  Status = "pending"  // Waiting for approval
	StatusApproved Status = "approved" // Approved, waiting to ship
	StatusRejected Status = "rejected" // Rejected by an approver, terminal
	StatusSent     Status = "sent"     // Shipped, stock left the source branch
	StatusReceived Status = "received" // Received, stock entered the destination branch, terminal
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusSent, StatusReceived:
		return true
	default:
		return false
	}
}

// Label returns the display label.
func (s Status) Label() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusPending:
		return "Menunggu Persetujuan"
	case StatusApproved:
		return "Disetujui"
	case StatusRejected:
		return "Ditolak"
	case StatusSent:
		return "Dikirim"
	case StatusReceived:
		return "Diterima"
	default:
		return string(s)
	}
}

// Color returns the badge color used by clients.
func (s Status) Color() string {
	switch s {
	case StatusDraft:
		return "gray"
	case StatusPending:
		return "yellow"
	case StatusApproved:
		return "blue"
	case StatusRejected:
		return "red"
	case StatusSent:
		return "indigo"
	case StatusReceived:
		return "green"
	default:
		return "gray"
	}
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusReceived
}

// Deletable reports whether a transfer in s may be deleted.
func (s Status) Deletable() bool {
	return s == StatusDraft || s == StatusPending
}

// ============================================================================
// TRANSFER TYPE
// ============================================================================

// Type tells which branch initiated the transfer.
type Type string

const (
	// TypeRequest is raised by the receiving branch asking for stock.
	TypeRequest Type = "request"
	// TypeSend is raised by the shipping branch pushing stock.
	TypeSend Type = "send"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	return t == TypeRequest || t == TypeSend
}

// Label returns the display label.
func (t Type) Label() string {
	switch t {
	case TypeRequest:
		return "Permintaan"
	case TypeSend:
		return "Pengiriman"
	default:
		return string(t)
	}
}

// NumberingBranch returns the branch whose code prefixes the transfer number.
func (t Type) NumberingBranch(fromBranchID, toBranchID int64) int64 {
	if t == TypeRequest {
		return toBranchID
	}
	return fromBranchID
}

// ============================================================================
// ENTITIES
// ============================================================================

// Transfer moves stock from one branch to another.
type Transfer struct {
	ID                 int64      `json:"id"`
	Number             string     `json:"transfer_number"`
	Type               Type       `json:"type"`
	FromBranchID       int64      `json:"from_branch_id"`
	ToBranchID         int64      `json:"to_branch_id"`
	RequestedBy        int64      `json:"requested_by"`
	ApprovedBy         *int64     `json:"approved_by,omitempty"`
	Status             Status     `json:"status"`
	Notes              string     `json:"notes,omitempty"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	DeliveryNoteNumber string     `json:"delivery_note_number,omitempty"`
	ReceivingNotes     string     `json:"receiving_notes,omitempty"`
	ReceivingPhoto     string     `json:"receiving_photo,omitempty"`
	RequestedAt        time.Time  `json:"requested_at"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	RejectedAt         *time.Time `json:"rejected_at,omitempty"`
	SentAt             *time.Time `json:"sent_at,omitempty"`
	ReceivedAt         *time.Time `json:"received_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Items              []Item     `json:"items,omitempty"`
}

// Item is one product line of a transfer. QuantitySent and QuantityReceived
// stay nil until the transfer is sent and received.
type Item struct {
	ID                int64  `json:"id"`
	TransferID        int64  `json:"transfer_id"`
	ProductID         int64  `json:"product_id"`
	QuantityRequested int64  `json:"quantity_requested"`
	QuantitySent      *int64 `json:"quantity_sent,omitempty"`
	QuantityReceived  *int64 `json:"quantity_received,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

// Sent returns the shipped quantity, 0 before sending.
func (i Item) Sent() int64 {
	if i.QuantitySent == nil {
		return 0
	}
	return *i.QuantitySent
}

// Received returns the received quantity, 0 before receiving.
func (i Item) Received() int64 {
	if i.QuantityReceived == nil {
		return 0
	}
	return *i.QuantityReceived
}

// ============================================================================
// INPUTS
// ============================================================================

// CreateInput describes a new transfer.
type CreateInput struct {
	Type         Type
	FromBranchID int64
	ToBranchID   int64
	Notes        string
	// Draft keeps the transfer editable instead of submitting it for approval.
	Draft bool
	Items []ItemInput
}

// ItemInput is a requested product line.
type ItemInput struct {
	ProductID int64
	Quantity  int64
	Notes     string
}

// SendInput overrides shipped quantities per item id. Items not listed ship
// their requested quantity.
type SendInput struct {
	Quantities map[int64]int64
}

// ReceiveInput overrides received quantities per item id. Items not listed are
// received as sent.
type ReceiveInput struct {
	Quantities map[int64]int64
	Notes      string
	PhotoPath  string
}

// ListFilter narrows transfer listings. BranchID matches either side.
type ListFilter struct {
	BranchID int64
	Status   Status
	Type     Type
	Limit    int
	Offset   int
}

// ============================================================================
// ERRORS
// ============================================================================

// ErrInvalidState is matched by *InvalidStateError.
var ErrInvalidState = errors.New("transfers: invalid state")

// InvalidStateError reports a transition attempted from the wrong status.
type InvalidStateError struct {
	TransferID int64
	Current    Status
	Required   []Status
}

func (e *InvalidStateError) Error() string {
	required := make([]string, len(e.Required))
	for i, s := range e.Required {
		required[i] = string(s)
	}
	return fmt.Sprintf("transfers: transfer %d is %s, requires %s", e.TransferID, e.Current, strings.Join(required, " or "))
}

// Is matches ErrInvalidState and shared.ErrConflict.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState || target == shared.ErrConflict
}

func requireStatus(t Transfer, allowed ...Status) error {
	for _, s := range allowed {
		if t.Status == s {
			return nil
		}
	}
	return &InvalidStateError{TransferID: t.ID, Current: t.Status, Required: allowed}
}
