package billing

import "errors"

var (
	// ErrInsufficientFunds means the wallet could not cover the debit.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")

	// ErrAlreadyProcessed means the invoice already left the pending
	// state; the caller lost the race and must not act again.
	ErrAlreadyProcessed = errors.New("invoice already processed")

	// ErrRemoteMutationFailed means the invoice was claimed but the
	// panel-side change did not go through.
	ErrRemoteMutationFailed = errors.New("remote panel mutation failed")

	// ErrCompensationFailed means a refund after a failed operation also
	// failed; the wallet is now inconsistent and needs an operator.
	ErrCompensationFailed = errors.New("wallet compensation failed")
)
