package execution

import (
	"context"
	"errors"
	"strings"

	"github.com/djstevess/arb-bot/internal/types"
)

// Classify maps a wallet/chain error to a coarse kind. The verbatim message is kept separately.
func Classify(err error) types.ErrorKind {
	if err == nil {
		return types.ErrKindNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrKindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"), strings.Contains(msg, "rejected by user"):
		return types.ErrKindUserRejected
	case strings.Contains(msg, "insufficient funds"):
		return types.ErrKindInsufficientFunds
	case strings.Contains(msg, "revert"):
		return types.ErrKindReverted
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return types.ErrKindTimeout
	}
	return types.ErrKindOther
}
