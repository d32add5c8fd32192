// Package numbering assigns human-readable document numbers of the form
// TAG/BRANCH/YYYY/MM/SEQ. Sequences restart every calendar month per branch.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Tag identifies the document kind.
type Tag string

const (
	// TagInvoice numbers sales.
	TagInvoice Tag = "INV"
	// TagTransfer numbers stock transfers.
	TagTransfer Tag = "TRF"
	// TagDeliveryNote numbers the delivery note issued when a transfer ships.
	TagDeliveryNote Tag = "SJ"
)

// minDigits is the zero padding width of the counter. Counters past 999 keep growing.
const minDigits = 3

// Prefix returns the number prefix, including the trailing slash, for branch and month.
func Prefix(tag Tag, branchCode string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%04d/%02d/", tag, branchCode, at.Year(), int(at.Month()))
}

// Sequence extracts the trailing counter of number, which must start with prefix.
func Sequence(prefix, number string) (int, error) {
	rest, ok := strings.CutPrefix(number, prefix)
	if !ok || rest == "" {
		return 0, fmt.Errorf("numbering: %q does not extend %q", number, prefix)
	}
	seq, err := strconv.Atoi(rest)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("numbering: bad counter in %q", number)
	}
	return seq, nil
}

// Next returns the number following last under prefix. An empty last starts at 001.
func Next(prefix, last string) (string, error) {
	seq := 0
	if last != "" {
		var err error
		seq, err = Sequence(prefix, last)
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s%0*d", prefix, minDigits, seq+1), nil
}

// Store reads and serializes number sequences inside the caller's transaction.
type Store interface {
	// LockSequence blocks concurrent assigners of the same prefix until the
	// transaction ends.
	LockSequence(ctx context.Context, prefix string) error
	// LastNumber returns the highest assigned number with prefix, or "" if none.
	LastNumber(ctx context.Context, tag Tag, prefix string) (string, error)
}

// ConflictError reports that a number kept colliding after the retry.
type ConflictError struct {
	Prefix string
	Number string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("numbering: %s already taken under %s", e.Number, e.Prefix)
}

// Is matches shared.ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == shared.ErrConflict }

// InsertFunc persists the document under number. It must return an error
// matching shared.ErrDuplicate when the number is already used.
type InsertFunc func(ctx context.Context, number string) error

// Assign computes the next number for tag, branch and month and hands it to
// insert. A duplicate is recomputed and retried once; a second duplicate
// yields *ConflictError.
func Assign(ctx context.Context, store Store, tag Tag, branchCode string, at time.Time, insert InsertFunc) (string, error) {
	if branchCode == "" {
		return "", shared.Invalid("branch_code", branchCode, "is required for numbering")
	}
	prefix := Prefix(tag, branchCode, at)
	if err := store.LockSequence(ctx, prefix); err != nil {
		return "", fmt.Errorf("numbering: lock %s: %w", prefix, err)
	}

	var number string
	for attempt := 0; attempt < 2; attempt++ {
		last, err := store.LastNumber(ctx, tag, prefix)
		if err != nil {
			return "", fmt.Errorf("numbering: last %s: %w", prefix, err)
		}
		number, err = Next(prefix, last)
		if err != nil {
			return "", err
		}
		err = insert(ctx, number)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, shared.ErrDuplicate) {
			return "", err
		}
	}
	return "", &ConflictError{Prefix: prefix, Number: number}
}
