package routes

import (
	"net/http"

	"duoescrow/native/relay"
)

func (a *api) relayFor(w http.ResponseWriter, r *http.Request) (*relay.Relay, bool) {
	if a.relays == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "relays unavailable"})
		return nil, false
	}
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return nil, false
	}
	rel, err := a.relays.For(id)
	if err != nil {
		a.writeError(w, r, err)
		return nil, false
	}
	return rel, true
}

func (a *api) relayInfo(w http.ResponseWriter, r *http.Request) {
	rel, ok := a.relayFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": account(rel.Address())})
}

func (a *api) relayDeposit(w http.ResponseWriter, r *http.Request) {
	rel, ok := a.relayFor(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	asset, err := req.Asset.asset()
	if err != nil {
		badRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err)
		return
	}
	sweeps, err := rel.Deposit(callerOf(r), asset, amount)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"relay":  account(rel.Address()),
		"sweeps": newSweepViews(sweeps),
	})
}

func (a *api) relaySweep(w http.ResponseWriter, r *http.Request) {
	rel, ok := a.relayFor(w, r)
	if !ok {
		return
	}
	sweeps, err := rel.Relay()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"relay":  account(rel.Address()),
		"sweeps": newSweepViews(sweeps),
	})
}

// relayRefund returns stranded relay funds. Only agreement participants may
// trigger it.
func (a *api) relayRefund(w http.ResponseWriter, r *http.Request) {
	rel, ok := a.relayFor(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	asset, err := req.Asset.asset()
	if err != nil {
		badRequest(w, err)
		return
	}
	agreement, err := a.ledger.GetEscrow(rel.AgreementID())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !agreement.IsParticipant(callerOf(r)) {
		a.writeError(w, r, errNotParticipant)
		return
	}
	amount, err := rel.RefundAll(asset)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"recipient": account(agreement.Primary.Participant),
		"amount":    amountString(amount),
	})
}
