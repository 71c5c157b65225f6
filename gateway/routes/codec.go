package routes

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"duoescrow/crypto"
	"duoescrow/native/arbitration"
	"duoescrow/native/bank"
	"duoescrow/native/escrow"
	"duoescrow/native/fees"
	"duoescrow/native/relay"
)

const maxBodyBytes = 1 << 20

type assetJSON struct {
	Kind  string `json:"kind"`
	Token string `json:"token,omitempty"`
}

func (a assetJSON) asset() (escrow.Asset, error) {
	var token [20]byte
	if strings.TrimSpace(a.Token) != "" {
		parsed, err := crypto.ParseAccount(a.Token)
		if err != nil {
			return escrow.Asset{}, fmt.Errorf("token: %w", err)
		}
		token = parsed
	}
	switch strings.ToLower(strings.TrimSpace(a.Kind)) {
	case "native", "":
		return escrow.Asset{Kind: escrow.AssetNative, Token: token}, nil
	case "fungible":
		return escrow.FungibleAsset(token), nil
	case "nonfungible", "non-fungible":
		return escrow.NonFungibleAsset(token), nil
	default:
		return escrow.Asset{}, fmt.Errorf("unknown asset kind %q", a.Kind)
	}
}

func assetView(a escrow.Asset) assetJSON {
	view := assetJSON{Kind: a.Kind.String()}
	if a.Kind != escrow.AssetNative {
		view.Token = crypto.FromRaw(crypto.TokenPrefix, a.Token).String()
	}
	return view
}

type legRequest struct {
	Participant string    `json:"participant"`
	Asset       assetJSON `json:"asset"`
	Amount      string    `json:"amount"`
}

func (l legRequest) input() (escrow.LegInput, error) {
	var out escrow.LegInput
	if strings.TrimSpace(l.Participant) != "" {
		participant, err := crypto.ParseAccount(l.Participant)
		if err != nil {
			return out, fmt.Errorf("participant: %w", err)
		}
		out.Participant = participant
	}
	asset, err := l.Asset.asset()
	if err != nil {
		return out, err
	}
	amount, err := parseAmount(l.Amount)
	if err != nil {
		return out, err
	}
	out.Asset = asset
	out.Amount = amount
	return out, nil
}

type feeJSON struct {
	Recipient string `json:"recipient"`
	Bps       uint32 `json:"bps"`
}

type createAgreementRequest struct {
	ID          string     `json:"id,omitempty"`
	Primary     legRequest `json:"primary"`
	Secondary   legRequest `json:"secondary"`
	StartTime   int64      `json:"startTime,omitempty"`
	EndTime     int64      `json:"endTime,omitempty"`
	Arbiters    []string   `json:"arbiters,omitempty"`
	Coordinator string     `json:"coordinator,omitempty"`
	Quorum      uint32     `json:"quorum,omitempty"`
	Fees        []feeJSON  `json:"fees,omitempty"`
}

func (req createAgreementRequest) input(id [32]byte) (escrow.CreateInput, error) {
	in := escrow.CreateInput{ID: id, StartTime: req.StartTime, EndTime: req.EndTime, Quorum: req.Quorum}
	var err error
	if in.Primary, err = req.Primary.input(); err != nil {
		return in, fmt.Errorf("primary: %w", err)
	}
	if in.Secondary, err = req.Secondary.input(); err != nil {
		return in, fmt.Errorf("secondary: %w", err)
	}
	for i, raw := range req.Arbiters {
		arbiter, err := crypto.ParseAccount(raw)
		if err != nil {
			return in, fmt.Errorf("arbiters[%d]: %w", i, err)
		}
		in.Arbiters = append(in.Arbiters, arbiter)
	}
	if strings.TrimSpace(req.Coordinator) != "" {
		if in.Coordinator, err = crypto.ParseAccount(req.Coordinator); err != nil {
			return in, fmt.Errorf("coordinator: %w", err)
		}
	}
	for i, fee := range req.Fees {
		recipient, err := crypto.ParseAccount(fee.Recipient)
		if err != nil {
			return in, fmt.Errorf("fees[%d]: %w", i, err)
		}
		in.Fees = append(in.Fees, fees.Definition{Recipient: recipient, Bps: fee.Bps})
	}
	return in, nil
}

type paymentRequest struct {
	Asset  assetJSON `json:"asset"`
	Amount string    `json:"amount"`
}

type proposeRequest struct {
	PrimaryAction   string `json:"primaryAction"`
	PrimaryAmount   string `json:"primaryAmount,omitempty"`
	SecondaryAction string `json:"secondaryAction"`
	SecondaryAmount string `json:"secondaryAmount,omitempty"`
	AutoExecute     bool   `json:"autoExecute"`
}

func (req proposeRequest) input(agreementID [32]byte) (arbitration.ProposeInput, error) {
	in := arbitration.ProposeInput{AgreementID: agreementID, AutoExecute: req.AutoExecute}
	var err error
	if in.PrimaryAction, err = arbitration.ParseAction(req.PrimaryAction); err != nil {
		return in, err
	}
	if in.SecondaryAction, err = arbitration.ParseAction(req.SecondaryAction); err != nil {
		return in, err
	}
	if in.PrimaryAmount, err = parseOptionalAmount(req.PrimaryAmount); err != nil {
		return in, fmt.Errorf("primaryAmount: %w", err)
	}
	if in.SecondaryAmount, err = parseOptionalAmount(req.SecondaryAmount); err != nil {
		return in, fmt.Errorf("secondaryAmount: %w", err)
	}
	return in, nil
}

type voteRequest struct {
	Vote string `json:"vote"`
}

func (req voteRequest) yes() (bool, error) {
	switch strings.ToLower(strings.TrimSpace(req.Vote)) {
	case "yes", "for", "approve":
		return true, nil
	case "no", "against", "reject":
		return false, nil
	default:
		return false, fmt.Errorf("vote must be yes or no, got %q", req.Vote)
	}
}

type refundRequest struct {
	Asset assetJSON `json:"asset"`
}

type legView struct {
	Participant string    `json:"participant"`
	Asset       assetJSON `json:"asset"`
	Pledged     string    `json:"pledged"`
	Paid        string    `json:"paid"`
	Released    string    `json:"released"`
	Refunded    string    `json:"refunded"`
	Remaining   string    `json:"remaining"`
}

type arbitrationView struct {
	Arbiters    []string `json:"arbiters"`
	Coordinator string   `json:"coordinator"`
	Quorum      uint32   `json:"quorum"`
}

type agreementView struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	CreatedAt   int64           `json:"createdAt"`
	StartTime   int64           `json:"startTime,omitempty"`
	EndTime     int64           `json:"endTime,omitempty"`
	Primary     legView         `json:"primary"`
	Secondary   legView         `json:"secondary"`
	Arbitration arbitrationView `json:"arbitration"`
	Fees        []feeJSON       `json:"fees"`
}

func account(addr [20]byte) string {
	return crypto.FromRaw(crypto.AccountPrefix, addr).String()
}

func newLegView(l escrow.Leg) legView {
	return legView{
		Participant: account(l.Participant),
		Asset:       assetView(l.Asset),
		Pledged:     amountString(l.Pledged),
		Paid:        amountString(l.Paid),
		Released:    amountString(l.Released),
		Refunded:    amountString(l.Refunded),
		Remaining:   amountString(l.Remaining()),
	}
}

func newAgreementView(a *escrow.Agreement) agreementView {
	arbiters := make([]string, 0, len(a.Arbitration.Arbiters))
	for _, arbiter := range a.Arbitration.Arbiters {
		arbiters = append(arbiters, account(arbiter))
	}
	feeViews := make([]feeJSON, 0, len(a.Fees))
	for _, fee := range a.Fees {
		feeViews = append(feeViews, feeJSON{Recipient: account(fee.Recipient), Bps: fee.Bps})
	}
	return agreementView{
		ID:        hex.EncodeToString(a.ID[:]),
		Status:    a.Status.String(),
		CreatedAt: a.CreatedAt,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Primary:   newLegView(a.Primary),
		Secondary: newLegView(a.Secondary),
		Arbitration: arbitrationView{
			Arbiters:    arbiters,
			Coordinator: account(a.Arbitration.Coordinator),
			Quorum:      a.Arbitration.Quorum,
		},
		Fees: feeViews,
	}
}

type proposalView struct {
	ID              string `json:"id"`
	AgreementID     string `json:"agreementId"`
	Proposer        string `json:"proposer"`
	PrimaryAction   string `json:"primaryAction"`
	PrimaryAmount   string `json:"primaryAmount"`
	SecondaryAction string `json:"secondaryAction"`
	SecondaryAmount string `json:"secondaryAmount"`
	AutoExecute     bool   `json:"autoExecute"`
	Status          string `json:"status"`
	VotesFor        uint32 `json:"votesFor"`
	VotesAgainst    uint32 `json:"votesAgainst"`
	Sequence        uint32 `json:"sequence"`
	CreatedAt       int64  `json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
}

func newProposalView(p *arbitration.Proposal) proposalView {
	return proposalView{
		ID:              hex.EncodeToString(p.ID[:]),
		AgreementID:     hex.EncodeToString(p.AgreementID[:]),
		Proposer:        account(p.Proposer),
		PrimaryAction:   p.PrimaryAction.String(),
		PrimaryAmount:   amountString(p.PrimaryAmount),
		SecondaryAction: p.SecondaryAction.String(),
		SecondaryAmount: amountString(p.SecondaryAmount),
		AutoExecute:     p.AutoExecute,
		Status:          p.Status.String(),
		VotesFor:        p.VotesFor,
		VotesAgainst:    p.VotesAgainst,
		Sequence:        p.Sequence,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

type sweepView struct {
	Leg       string    `json:"leg"`
	Asset     assetJSON `json:"asset"`
	Amount    string    `json:"amount"`
	Depositor string    `json:"depositor"`
}

func newSweepViews(sweeps []relay.Sweep) []sweepView {
	out := make([]sweepView, 0, len(sweeps))
	for _, sweep := range sweeps {
		out = append(out, sweepView{
			Leg:       sweep.Side.String(),
			Asset:     assetView(sweep.Asset),
			Amount:    amountString(sweep.Amount),
			Depositor: account(sweep.Depositor),
		})
	}
	return out
}

type holdingView struct {
	Asset  assetJSON `json:"asset"`
	Amount string    `json:"amount"`
}

func newHoldingViews(holdings []bank.Holding) []holdingView {
	out := make([]holdingView, 0, len(holdings))
	for _, holding := range holdings {
		out = append(out, holdingView{Asset: assetView(holding.Asset), Amount: amountString(holding.Amount)})
	}
	return out
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

var errBadRequest = errors.New("bad request")

func parseID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != len(id) {
		return id, fmt.Errorf("%w: id must be 32 hex-encoded bytes", errBadRequest)
	}
	copy(id[:], decoded)
	return id, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseOptionalAmount(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return new(big.Int), nil
	}
	return parseAmount(raw)
}

func decodeJSON(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
