package arbitration

import (
	"errors"

	"duoescrow/native/escrow"
)

var (
	ErrInvalidProposal           = errors.New("arbitration: invalid proposal")
	ErrInvalidProposalState      = errors.New("arbitration: proposal state does not allow operation")
	ErrInvalidProposalNoArbiters = errors.New("arbitration: agreement has no arbiters")
	ErrTooManyProposals          = errors.New("arbitration: proposal limit reached for agreement")
	ErrConcurrentProposalLimit   = errors.New("arbitration: agreement already has an active proposal")
	ErrNotCancellable            = errors.New("arbitration: proposal already has votes")

	// ErrUnauthorized is shared with the ledger so callers match a single
	// sentinel regardless of which component refused the caller.
	ErrUnauthorized = escrow.ErrUnauthorized

	errNilState  = errors.New("arbitration coordinator: state not configured")
	errNilLedger = errors.New("arbitration coordinator: ledger not configured")
)
