package httpapi

import (
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/rexpump/media-upload-server-public/apperr"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps a typed error to its fixed HTTP status and a
// machine-readable code, per spec.md §7's error taxonomy table.
func writeError(w http.ResponseWriter, log func(err error, status int), err error) {
	appErr := apperr.Wrap(err)
	if log != nil {
		log(appErr, appErr.StatusCode())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode())
	sonic.ConfigDefault.NewEncoder(w).Encode(errorBody{Error: appErr.Message, Code: string(appErr.Kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	sonic.ConfigDefault.NewEncoder(w).Encode(v)
}
