// Package httpapi exposes the wallet REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/internal/metrics"
	"github.com/tradeos/walletcore/internal/services/deposit"
	"github.com/tradeos/walletcore/internal/services/hotwallet"
	"github.com/tradeos/walletcore/internal/storage"
)

// API bundles the services the handler exposes.
type API struct {
	Deposits  *deposit.Service
	Inspector *deposit.Inspector
	HotWallet *hotwallet.Service
	Ledger    storage.LedgerStore
}

type handler struct {
	api API
}

// NewHandler returns a mux exposing the wallet REST API.
func NewHandler(api API) http.Handler {
	h := &handler{api: api}
	mux := http.NewServeMux()
	mux.HandleFunc("/deposits", h.deposits)
	mux.HandleFunc("/deposits/", h.depositByID)
	mux.HandleFunc("/users/", h.userResources)
	mux.HandleFunc("/assets", h.assets)
	mux.HandleFunc("/admin/inspect", h.adminInspect)
	mux.HandleFunc("/admin/hotwallet/send", h.adminHotWalletSend)
	mux.HandleFunc("/healthz", h.healthz)
	mux.Handle("/metrics", metrics.Handler())
	return metrics.InstrumentHandler(mux)
}

func (h *handler) deposits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		UserID         string  `json:"user_id"`
		AssetID        string  `json:"asset_id"`
		AmountExpected float64 `json:"amount_expected"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := h.api.Deposits.CreateSession(r.Context(), payload.UserID, payload.AssetID, payload.AmountExpected)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, wallet.ErrAssetInactive) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *handler) depositByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/deposits"), "/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	session, err := h.api.Deposits.GetSession(r.Context(), id, r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *handler) userResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/users"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	userID := parts[0]

	switch parts[1] {
	case "deposits":
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		sessions, err := h.api.Deposits.ListRecent(r.Context(), userID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, sessions)

	case "balance":
		balance, err := h.api.Ledger.GetBalance(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, balance)

	case "ledger":
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := h.api.Ledger.ListLedgerEntries(r.Context(), userID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) assets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	assets, err := h.api.Deposits.ListAssets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func (h *handler) adminInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Network string `json:"network"`
		TxHash  string `json:"tx_hash"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	network, err := wallet.ParseNetwork(payload.Network)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.TxHash == "" {
		writeError(w, http.StatusBadRequest, errors.New("tx_hash is required"))
		return
	}

	session, err := h.api.Inspector.Inspect(r.Context(), network, payload.TxHash)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *handler) adminHotWalletSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Network   string `json:"network"`
		FromIndex uint32 `json:"from_index"`
		ToAddress string `json:"to_address"`
		Amount    string `json:"amount"` // smallest units, decimal string
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	network, err := wallet.ParseNetwork(payload.Network)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := new(big.Int).SetString(payload.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("amount must be a decimal integer string"))
		return
	}

	txHash, err := h.api.HotWallet.Send(r.Context(), network, payload.FromIndex, payload.ToAddress, amount)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, hotwallet.ErrDisabled) {
			status = http.StatusForbidden
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tx_hash": txHash})
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
