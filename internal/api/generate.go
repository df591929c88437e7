package api

import (
	"net/http"

	"github.com/kalambet/timeledger/internal/generator"
)

// handleGenerate runs the model on a posted day snapshot and answers with
// {text, meta}. It makes this server usable as the endpoint of another
// instance's remote generator.
func handleGenerate(c Completer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generator.Request
		if !decodeBody(w, r, &req) {
			return
		}
		resp, err := c.Complete(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleModels(c Completer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := c.ListModels(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "external_service_error", "failed to list models: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, generator.ModelList{
			Object: "list",
			Data:   models,
		})
	}
}
