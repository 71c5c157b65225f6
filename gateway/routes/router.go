package routes

import (
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"duoescrow/gateway/middleware"
	"duoescrow/journal"
	"duoescrow/native/arbitration"
	"duoescrow/native/bank"
	"duoescrow/native/escrow"
	"duoescrow/native/relay"
)

// Ledger is the escrow surface served by the gateway.
type Ledger interface {
	CreateEscrow(input escrow.CreateInput) (*escrow.Agreement, error)
	GetEscrow(id [32]byte) (*escrow.Agreement, error)
	PlacePayment(id [32]byte, asset escrow.Asset, amount *big.Int, payer [20]byte) (*escrow.Agreement, error)
}

// Coordinator is the arbitration surface served by the gateway.
type Coordinator interface {
	Address() [20]byte
	Propose(caller [20]byte, input arbitration.ProposeInput) (*arbitration.Proposal, error)
	Vote(caller [20]byte, proposalID [32]byte, yes bool) (*arbitration.Proposal, error)
	Cancel(caller [20]byte, proposalID [32]byte) (*arbitration.Proposal, error)
	Execute(proposalID [32]byte) (*arbitration.Proposal, error)
	Proposal(id [32]byte) (*arbitration.Proposal, error)
	Proposals(agreementID [32]byte) ([]*arbitration.Proposal, error)
}

// Relays hands out the deposit relay of an agreement.
type Relays interface {
	For(id [32]byte) (*relay.Relay, error)
}

// Balances lists vault holdings.
type Balances interface {
	Balances(owner [20]byte) ([]bank.Holding, error)
}

// Journal answers per-agreement event history.
type Journal interface {
	ByAgreement(agreementID string, limit int) ([]journal.Entry, error)
}

type Config struct {
	Ledger        Ledger
	Coordinators  []Coordinator
	Relays        Relays
	Balances      Balances
	Journal       Journal
	Stream        http.Handler
	Metrics       http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

type api struct {
	ledger       Ledger
	coordinators map[[20]byte]Coordinator
	ordered      []Coordinator
	relays       Relays
	balances     Balances
	journal      Journal
	logger       *slog.Logger
}

// New builds the gateway router.
func New(cfg Config) (http.Handler, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("gateway: ledger required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("gateway: authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &api{
		ledger:       cfg.Ledger,
		coordinators: make(map[[20]byte]Coordinator, len(cfg.Coordinators)),
		relays:       cfg.Relays,
		balances:     cfg.Balances,
		journal:      cfg.Journal,
		logger:       logger,
	}
	for _, coordinator := range cfg.Coordinators {
		if coordinator == nil {
			continue
		}
		h.coordinators[coordinator.Address()] = coordinator
		h.ordered = append(h.ordered, coordinator)
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/v1", func(v chi.Router) {
		v.Group(func(pub chi.Router) {
			if cfg.RateLimiter != nil {
				pub.Use(cfg.RateLimiter.Middleware)
			}
			pub.Get("/agreements/{id}", h.getAgreement)
			pub.Get("/agreements/{id}/proposals", h.listProposals)
			pub.Get("/agreements/{id}/events", h.agreementEvents)
			pub.Get("/agreements/{id}/relay", h.relayInfo)
			pub.Get("/proposals/{id}", h.getProposal)
			pub.Get("/balances/{owner}", h.getBalances)
			if cfg.Stream != nil {
				pub.Handle("/events/ws", cfg.Stream)
			}
		})
		v.Group(func(authed chi.Router) {
			authed.Use(cfg.Authenticator.Middleware)
			if cfg.RateLimiter != nil {
				authed.Use(cfg.RateLimiter.Middleware)
			}
			authed.Post("/agreements", h.createAgreement)
			authed.Post("/agreements/{id}/payments", h.placePayment)
			authed.Post("/agreements/{id}/proposals", h.propose)
			authed.Post("/agreements/{id}/relay/deposits", h.relayDeposit)
			authed.Post("/agreements/{id}/relay/sweep", h.relaySweep)
			authed.Post("/agreements/{id}/relay/refund", h.relayRefund)
			authed.Post("/proposals/{id}/votes", h.vote)
			authed.Post("/proposals/{id}/cancel", h.cancel)
			authed.Post("/proposals/{id}/execute", h.execute)
		})
	})
	return r, nil
}

// coordinatorFor returns the coordinator bound to the agreement.
func (a *api) coordinatorFor(agreement *escrow.Agreement) (Coordinator, error) {
	coordinator, ok := a.coordinators[agreement.Arbitration.Coordinator]
	if !ok {
		return nil, errCoordinatorUnavailable
	}
	return coordinator, nil
}

// proposalCoordinator resolves the coordinator owning a proposal. Proposals
// share one store, so any coordinator can look the record up.
func (a *api) proposalCoordinator(id [32]byte) (Coordinator, *arbitration.Proposal, error) {
	if len(a.ordered) == 0 {
		return nil, nil, errCoordinatorUnavailable
	}
	proposal, err := a.ordered[0].Proposal(id)
	if err != nil {
		return nil, nil, err
	}
	agreement, err := a.ledger.GetEscrow(proposal.AgreementID)
	if err != nil {
		return nil, nil, err
	}
	coordinator, err := a.coordinatorFor(agreement)
	if err != nil {
		return nil, nil, err
	}
	return coordinator, proposal, nil
}

func callerOf(r *http.Request) [20]byte {
	caller, _ := middleware.Caller(r.Context())
	return caller
}

func pathID(r *http.Request) ([32]byte, error) {
	return parseID(chi.URLParam(r, "id"))
}
