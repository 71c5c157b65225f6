package escrow

import "errors"

var (
	ErrInvalidAgreement         = errors.New("escrow: invalid agreement")
	ErrInvalidParty             = errors.New("escrow: invalid party")
	ErrInvalidAmount            = errors.New("escrow: invalid amount")
	ErrInvalidAsset             = errors.New("escrow: invalid asset")
	ErrCurrencyMismatch         = errors.New("escrow: both legs use the same asset")
	ErrInvalidEndDate           = errors.New("escrow: invalid end date")
	ErrInvalidFee               = errors.New("escrow: invalid fee definition")
	ErrInvalidArbiters          = errors.New("escrow: invalid arbiter set")
	ErrDuplicateAgreement       = errors.New("escrow: agreement already exists")
	ErrInvalidArbitrationModule = errors.New("escrow: invalid arbitration module")
	ErrInvalidAgreementState    = errors.New("escrow: agreement state does not allow operation")
	ErrInvalidCurrency          = errors.New("escrow: asset does not match either leg")
	ErrTransferFailed           = errors.New("escrow: asset transfer failed")
	ErrUnauthorized             = errors.New("escrow: unauthorized caller")
	ErrAmountExceeded           = errors.New("escrow: amount exceeds remaining balance")
	ErrInvalidInstruction       = errors.New("escrow: invalid release instruction")

	errNilState = errors.New("escrow ledger: state not configured")
	errNilMover = errors.New("escrow ledger: asset mover not configured")
)
