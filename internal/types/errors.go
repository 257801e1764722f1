package types

import (
	"errors"

	"github.com/djstevess/arb-bot/internal/pricefeed"
)

var (
	ErrUnavailable        = pricefeed.ErrUnavailable
	ErrPolicyRejected     = errors.New("rejected by auto-execution policy")
	ErrExecutionFailed    = errors.New("execution failed")
	ErrNotConnected       = errors.New("contract not connected")
	ErrInsufficientGas    = errors.New("insufficient native balance for gas")
	ErrTradeInProgress    = errors.New("trade already in progress")
	ErrDeclined           = errors.New("trade declined at confirmation")
	ErrTradeTerminal      = errors.New("trade is terminal")
	ErrInvalidTransition  = errors.New("invalid trade transition")
	ErrUnknownOpportunity = errors.New("opportunity not in current set")
)
