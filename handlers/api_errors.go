package handlers

import (
	"encoding/json"
	"net/http"
)

// apiError is the body of every non-2xx response: a single error object with
// a machine-readable code and a human-readable detail.
type apiError struct {
	Code   string `json:"code"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

type apiErrorEnvelope struct {
	Error apiError `json:"error"`
}

// WriteAPIError writes the error envelope with the given HTTP status, code
// and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	writeJSON(w, httpStatus, apiErrorEnvelope{
		Error: apiError{
			Code:   code,
			Status: httpStatus,
			Detail: detail,
		},
	})
}

func writeJSON(w http.ResponseWriter, httpStatus int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(payload)
}
