package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	eventsmemory "github.com/sheikh-saqib/crowdfunding-ledger/internal/events/memory"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/ledger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/metrics"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

// CallerHeader carries the identity of the caller of a fund operation.
const CallerHeader = "X-Caller-ID"

// FundService is the part of *ledger.Ledger the HTTP layer uses.
type FundService interface {
	Contribute(ctx context.Context, caller string, amount decimal.Decimal) error
	Receive(ctx context.Context, from string, amount decimal.Decimal) error
	CreateRequest(ctx context.Context, caller, description, recipient string, amount decimal.Decimal) (int, error)
	VoteRequest(ctx context.Context, caller string, index int) error
	ExecutePayment(ctx context.Context, caller string, index int) error
	GetRefund(ctx context.Context, caller string) (decimal.Decimal, error)

	Snapshot() models.Snapshot
	Contribution(ctx context.Context, contributor string) (decimal.Decimal, bool, error)
	Request(ctx context.Context, index int) (models.SpendingRequest, error)
	Requests(ctx context.Context) ([]models.SpendingRequest, error)
	GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error)
	EntriesFor(ctx context.Context, account string) ([]models.LedgerEntry, error)
}

// EventSource exposes recently published fund events.
type EventSource interface {
	Events() []eventsmemory.Published
}

// Handler serves the fund operations and queries over HTTP.
type Handler struct {
	fund   FundService
	events EventSource
	log    logrus.FieldLogger
}

// NewHandler returns a Handler for fund. Call Router to obtain the routes.
func NewHandler(fund FundService, log logrus.FieldLogger) *Handler {
	return &Handler{fund: fund, log: log}
}

// WithEvents enables GET /events backed by src.
func (h *Handler) WithEvents(src EventSource) *Handler {
	h.events = src
	return h
}

// Router returns the HTTP routes wrapped with request metrics.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/fund", h.handleFund).Methods(http.MethodGet)
	r.HandleFunc("/contributions", h.handleContribute).Methods(http.MethodPost)
	r.HandleFunc("/receive", h.handleReceive).Methods(http.MethodPost)
	r.HandleFunc("/refunds", h.handleRefund).Methods(http.MethodPost)
	r.HandleFunc("/contributors/{id}", h.handleContributor).Methods(http.MethodGet)

	r.HandleFunc("/requests", h.handleListRequests).Methods(http.MethodGet)
	r.HandleFunc("/requests", h.handleCreateRequest).Methods(http.MethodPost)
	r.HandleFunc("/requests/{index}", h.handleGetRequest).Methods(http.MethodGet)
	r.HandleFunc("/requests/{index}/votes", h.handleVote).Methods(http.MethodPost)
	r.HandleFunc("/requests/{index}/payment", h.handlePayment).Methods(http.MethodPost)

	r.HandleFunc("/ledgerEntries", h.handleLedgerEntries).Methods(http.MethodGet)
	if h.events != nil {
		r.HandleFunc("/events", h.handleEvents).Methods(http.MethodGet)
	}

	return metrics.InstrumentHandler(r)
}

type amountInput struct {
	Amount decimal.Decimal `json:"amount"`
}

type createRequestInput struct {
	Description string          `json:"description"`
	Recipient   string          `json:"recipient"`
	Amount      decimal.Decimal `json:"amount"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleFund(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fund.Snapshot())
}

func (h *Handler) handleContribute(w http.ResponseWriter, r *http.Request) {
	var input amountInput
	if !decodeJSON(w, r, &input) {
		return
	}
	if err := h.fund.Contribute(r.Context(), caller(r), input.Amount); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.fund.Snapshot())
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var input amountInput
	if !decodeJSON(w, r, &input) {
		return
	}
	if err := h.fund.Receive(r.Context(), caller(r), input.Amount); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.fund.Snapshot())
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	amount, err := h.fund.GetRefund(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountInput{Amount: amount})
}

func (h *Handler) handleContributor(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	amount, ok, err := h.fund.Contribution(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Code: string(ledger.CodeNotContributor), Error: "not a contributor"})
		return
	}
	entries, err := h.fund.EntriesFor(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Contributor string               `json:"contributor"`
		Amount      decimal.Decimal      `json:"amount"`
		Entries     []models.LedgerEntry `json:"entries"`
	}{id, amount, entries})
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.fund.Requests(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var input createRequestInput
	if !decodeJSON(w, r, &input) {
		return
	}
	index, err := h.fund.CreateRequest(r.Context(), caller(r), input.Description, input.Recipient, input.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"index": index})
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	index, ok := requestIndex(w, r)
	if !ok {
		return
	}
	req, err := h.fund.Request(r.Context(), index)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) handleVote(w http.ResponseWriter, r *http.Request) {
	index, ok := requestIndex(w, r)
	if !ok {
		return
	}
	if err := h.fund.VoteRequest(r.Context(), caller(r), index); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeRequest(w, r, index, http.StatusCreated)
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	index, ok := requestIndex(w, r)
	if !ok {
		return
	}
	if err := h.fund.ExecutePayment(r.Context(), caller(r), index); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeRequest(w, r, index, http.StatusOK)
}

func (h *Handler) handleLedgerEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.fund.GetLedgerEntries(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.events.Events())
}

func (h *Handler) writeRequest(w http.ResponseWriter, r *http.Request, index, status int) {
	req, err := h.fund.Request(r.Context(), index)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, status, req)
}

func caller(r *http.Request) string {
	return r.Header.Get(CallerHeader)
}

func requestIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "request index must be an integer"})
		return 0, false
	}
	return index, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}
