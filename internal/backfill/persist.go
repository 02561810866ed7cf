package backfill

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FailurePolicy decides what a failed row does to the pass it belongs to.
type FailurePolicy int

const (
	// ContinueOnError logs the failed row and moves on to the next one.
	ContinueOnError FailurePolicy = iota
	// FailFast aborts the pass on the first failed row.
	FailFast
)

func (p FailurePolicy) String() string {
	switch p {
	case ContinueOnError:
		return "continue"
	case FailFast:
		return "fail-fast"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy parses "continue" or "fail-fast".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "continue", "":
		return ContinueOnError, nil
	case "fail-fast", "failfast":
		return FailFast, nil
	default:
		return 0, fmt.Errorf("invalid failure policy %q, must be one of: continue, fail-fast", s)
	}
}

// Writer persists the resolved session of a token.
type Writer interface {
	SetSession(ctx context.Context, id int64, session uuid.UUID) error
}

// Result counts what happened to the tokens of one table.
type Result struct {
	Table    string
	Scanned  int64
	Resolved int64
	Missed   map[MissReason]int64
	Failed   int64
}

// MissedTotal returns the number of tokens left without a session.
func (r Result) MissedTotal() int64 {
	var n int64
	for _, c := range r.Missed {
		n += c
	}
	return n
}

// Persist writes every resolved outcome through w. Misses are counted and
// skipped. Row failures follow policy. Errors yielded by outcomes abort
// the pass regardless of policy.
func Persist(ctx context.Context, table string, outcomes iter.Seq2[Outcome, error], w Writer, policy FailurePolicy, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.L()
	}

	res := Result{Table: table, Missed: make(map[MissReason]int64)}

	for out, err := range outcomes {
		if err != nil {
			return res, err
		}
		res.Scanned++

		rowErr := out.Err
		if rowErr == nil {
			if out.Reason != Resolved {
				res.Missed[out.Reason]++
				continue
			}
			rowErr = w.SetSession(ctx, out.Token.ID, out.Session)
		}

		if rowErr == nil {
			res.Resolved++
			continue
		}

		res.Failed++
		failure := &RowError{Table: table, TokenID: out.Token.ID, Err: rowErr}
		if policy == FailFast {
			return res, failure
		}
		logger.Warn("Skipping token that could not be linked to its session",
			zap.String("table", table),
			zap.Int64("token_id", out.Token.ID),
			zap.Error(rowErr))
	}

	return res, nil
}
