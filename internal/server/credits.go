package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/doctorfy/doctorfy/internal/common"
)

// GetBalance returns the caller's current credit balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	balance, err := h.ledger.Balance(r.Context(), callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance.String()})
}

// ListTransactions returns the caller's ledger entries, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	txs, err := h.ledger.ListForUser(r.Context(), callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	type txView struct {
		ID        string `json:"id"`
		Delta     string `json:"delta"`
		Reason    string `json:"reason"`
		Reference string `json:"reference"`
		CreatedAt string `json:"created_at"`
	}
	views := make([]txView, 0, len(txs))
	for _, t := range txs {
		views = append(views, txView{
			ID:        t.ID.String(),
			Delta:     t.Delta.String(),
			Reason:    string(t.Reason),
			Reference: t.Reference,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": views})
}

// ExportTransactions streams the caller's ledger history as an XLSX workbook.
func (h *Handler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	data, err := h.exporter.ExportTransactionsXLSX(r.Context(), callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="transactions_`+time.Now().UTC().Format("20060102")+`.xlsx"`)
	_, _ = w.Write(data)
}

func (h *Handler) callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	caller, ok := common.AuthUserFromContext(r.Context())
	if !ok {
		writeError(w, common.Errorf(common.KindUnauthorized, "authentication required"))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(caller.ID)
	if err != nil {
		writeError(w, common.Errorf(common.KindUnauthorized, "invalid caller identity"))
		return uuid.Nil, false
	}
	return id, true
}
