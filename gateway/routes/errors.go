package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"duoescrow/native/arbitration"
	"duoescrow/native/bank"
	"duoescrow/native/escrow"
	"duoescrow/native/relay"
)

var (
	errCoordinatorUnavailable = errors.New("gateway: agreement coordinator is not served here")
	errJournalDisabled        = errors.New("gateway: event journal disabled")
	errNotParticipant         = errors.New("gateway: caller is not a participant")
)

var statusBySentinel = []struct {
	err    error
	status int
}{
	{errBadRequest, http.StatusBadRequest},
	{escrow.ErrUnauthorized, http.StatusForbidden},
	{errNotParticipant, http.StatusForbidden},
	{escrow.ErrInvalidAgreement, http.StatusNotFound},
	{arbitration.ErrInvalidProposal, http.StatusNotFound},
	{relay.ErrUnknownAgreement, http.StatusNotFound},
	{errJournalDisabled, http.StatusNotFound},
	{escrow.ErrDuplicateAgreement, http.StatusConflict},
	{escrow.ErrInvalidAgreementState, http.StatusConflict},
	{arbitration.ErrInvalidProposalState, http.StatusConflict},
	{arbitration.ErrInvalidProposalNoArbiters, http.StatusConflict},
	{arbitration.ErrTooManyProposals, http.StatusConflict},
	{arbitration.ErrConcurrentProposalLimit, http.StatusConflict},
	{arbitration.ErrNotCancellable, http.StatusConflict},
	{relay.ErrNothingToRefund, http.StatusConflict},
	{errCoordinatorUnavailable, http.StatusServiceUnavailable},
	{escrow.ErrTransferFailed, http.StatusUnprocessableEntity},
	{bank.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{escrow.ErrInvalidParty, http.StatusUnprocessableEntity},
	{escrow.ErrInvalidAmount, http.StatusUnprocessableEntity},
	{escrow.ErrInvalidAsset, http.StatusUnprocessableEntity},
	{escrow.ErrCurrencyMismatch, http.StatusUnprocessableEntity},
	{escrow.ErrInvalidEndDate, http.StatusUnprocessableEntity},
	{escrow.ErrInvalidFee, http.StatusUnprocessableEntity},
	{escrow.ErrInvalidArbiters, http.StatusUnprocessableEntity},
	{escrow.ErrInvalidArbitrationModule, http.StatusUnprocessableEntity},
	{escrow.ErrInvalidCurrency, http.StatusUnprocessableEntity},
	{escrow.ErrAmountExceeded, http.StatusUnprocessableEntity},
	{escrow.ErrInvalidInstruction, http.StatusUnprocessableEntity},
	{relay.ErrInvalidAmount, http.StatusUnprocessableEntity},
	{bank.ErrInvalidAmount, http.StatusUnprocessableEntity},
	{bank.ErrUnknownToken, http.StatusUnprocessableEntity},
	{bank.ErrInvalidToken, http.StatusUnprocessableEntity},
}

// statusFor maps ledger and coordinator sentinels onto HTTP status codes.
func statusFor(err error) int {
	for _, entry := range statusBySentinel {
		if errors.Is(err, entry.err) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := strings.TrimSpace(err.Error())
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "gateway request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}
