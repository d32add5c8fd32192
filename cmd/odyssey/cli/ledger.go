package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
)

// LedgerVerifier recomputes stock projections from their movements.
type LedgerVerifier interface {
	VerifyAll(ctx context.Context) ([]inventory.LedgerReport, error)
	VerifyLedger(ctx context.Context, branchID, productID int64) (inventory.LedgerReport, error)
}

// LedgerOpsCLI exposes operator commands over the stock ledger.
type LedgerOpsCLI struct {
	verifier LedgerVerifier
}

// NewLedgerOpsCLI constructs the helper.
func NewLedgerOpsCLI(verifier LedgerVerifier) *LedgerOpsCLI {
	return &LedgerOpsCLI{verifier: verifier}
}

// LedgerVerifyOptions defines the flags of the ledger verify command.
// BranchID and ProductID narrow the check to one pair when both are set.
type LedgerVerifyOptions struct {
	BranchID   int64
	ProductID  int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// LedgerVerifySummary is the JSON output of ledger verify.
type LedgerVerifySummary struct {
	OK         bool                     `json:"ok"`
	Mismatches []inventory.LedgerReport `json:"mismatches"`
}

// VerifyCommand runs the integrity check and returns the process exit code:
// 0 when consistent, 10 when mismatches were found, 1 on usage or runtime errors.
func (c *LedgerOpsCLI) VerifyCommand(ctx context.Context, opts LedgerVerifyOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if c == nil || c.verifier == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "ledger verify: verifier not configured")
		return 1
	}
	if (opts.BranchID > 0) != (opts.ProductID > 0) {
		_, _ = fmt.Fprintln(opts.Stderr, "ledger verify: --branch and --product must be given together")
		return 1
	}

	var mismatches []inventory.LedgerReport
	if opts.BranchID > 0 {
		report, err := c.verifier.VerifyLedger(ctx, opts.BranchID, opts.ProductID)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: %v\n", err)
			return 1
		}
		if !report.Consistent {
			mismatches = append(mismatches, report)
		}
	} else {
		broken, err := c.verifier.VerifyAll(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: %v\n", err)
			return 1
		}
		mismatches = broken
	}
	sort.Slice(mismatches, func(i, j int) bool {
		if mismatches[i].BranchID == mismatches[j].BranchID {
			return mismatches[i].ProductID < mismatches[j].ProductID
		}
		return mismatches[i].BranchID < mismatches[j].BranchID
	})

	if opts.JSONOutput {
		summary := LedgerVerifySummary{OK: len(mismatches) == 0, Mismatches: mismatches}
		if summary.Mismatches == nil {
			summary.Mismatches = []inventory.LedgerReport{}
		}
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: encode json: %v\n", err)
			return 1
		}
	} else {
		renderVerifyHuman(opts.Stdout, mismatches)
	}
	if len(mismatches) > 0 {
		return 10
	}
	return 0
}

func renderVerifyHuman(out io.Writer, mismatches []inventory.LedgerReport) {
	if len(mismatches) == 0 {
		_, _ = fmt.Fprintln(out, "Stock ledger is consistent.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d inconsistent pair(s):\n", len(mismatches))
	for _, m := range mismatches {
		_, _ = fmt.Fprintf(out, " - branch %d product %d: stock %d, ledger sum %d, last stock_after %d (%d movements)\n",
			m.BranchID, m.ProductID, m.Quantity, m.SignedSum, m.LastStockAfter, m.Movements)
	}
}
