package server

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/doctorfy/doctorfy/internal/common"
)

// errorBody is the error envelope of the API. analysis_status is present
// only when an analysis run reached a terminal state because of the error.
type errorBody struct {
	Error          string `json:"error"`
	AnalysisStatus string `json:"analysis_status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, common.HTTPStatus(err), errorBody{Error: common.UserMessage(err)})
}

// writeAnalysisError augments the error envelope with the terminal analysis
// status for pipeline endpoints.
func writeAnalysisError(w http.ResponseWriter, err error) {
	body := errorBody{Error: common.UserMessage(err)}
	switch common.KindOf(err) {
	case common.KindProviderTimeout:
		body.AnalysisStatus = "TIMEOUT"
	case common.KindProviderOverloaded, common.KindProviderInvalidInput,
		common.KindProviderAuth, common.KindProviderOther,
		common.KindParseError, common.KindDecodeError:
		body.AnalysisStatus = "FAILED"
	}
	writeJSON(w, common.HTTPStatus(err), body)
}
