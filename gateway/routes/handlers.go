package routes

import (
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	ecrypto "duoescrow/crypto"
)

func (a *api) createAgreement(w http.ResponseWriter, r *http.Request) {
	var req createAgreementRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	var id [32]byte
	if strings.TrimSpace(req.ID) != "" {
		parsed, err := parseID(req.ID)
		if err != nil {
			badRequest(w, err)
			return
		}
		id = parsed
	} else {
		// Server-assigned ids are the hash of a random uuid.
		nonce := uuid.New()
		id = [32]byte(crypto.Keccak256Hash(nonce[:]))
	}
	input, err := req.input(id)
	if err != nil {
		badRequest(w, err)
		return
	}
	agreement, err := a.ledger.CreateEscrow(input)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAgreementView(agreement))
}

func (a *api) getAgreement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	agreement, err := a.ledger.GetEscrow(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAgreementView(agreement))
}

func (a *api) placePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
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
	agreement, err := a.ledger.PlacePayment(id, asset, amount, callerOf(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAgreementView(agreement))
}

func (a *api) propose(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req proposeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	input, err := req.input(id)
	if err != nil {
		badRequest(w, err)
		return
	}
	agreement, err := a.ledger.GetEscrow(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	coordinator, err := a.coordinatorFor(agreement)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	proposal, err := coordinator.Propose(callerOf(r), input)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProposalView(proposal))
}

func (a *api) listProposals(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	agreement, err := a.ledger.GetEscrow(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	coordinator, err := a.coordinatorFor(agreement)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	proposals, err := coordinator.Proposals(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	views := make([]proposalView, 0, len(proposals))
	for _, proposal := range proposals {
		views = append(views, newProposalView(proposal))
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *api) getProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	_, proposal, err := a.proposalCoordinator(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProposalView(proposal))
}

func (a *api) vote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req voteRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	yes, err := req.yes()
	if err != nil {
		badRequest(w, err)
		return
	}
	coordinator, _, err := a.proposalCoordinator(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	proposal, err := coordinator.Vote(callerOf(r), id, yes)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProposalView(proposal))
}

func (a *api) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	coordinator, _, err := a.proposalCoordinator(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	proposal, err := coordinator.Cancel(callerOf(r), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProposalView(proposal))
}

func (a *api) execute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	coordinator, _, err := a.proposalCoordinator(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	proposal, err := coordinator.Execute(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProposalView(proposal))
}

func (a *api) agreementEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if a.journal == nil {
		a.writeError(w, r, errJournalDisabled)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			badRequest(w, errBadRequest)
			return
		}
		limit = parsed
	}
	entries, err := a.journal.ByAgreement(hex.EncodeToString(id[:]), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *api) getBalances(w http.ResponseWriter, r *http.Request) {
	if a.balances == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "balances unavailable"})
		return
	}
	owner, err := ecrypto.ParseAccount(chi.URLParam(r, "owner"))
	if err != nil {
		badRequest(w, err)
		return
	}
	holdings, err := a.balances.Balances(owner)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":    account(owner),
		"holdings": newHoldingViews(holdings),
	})
}
