package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const typedJSONContentType = "application/x-amz-json-1.0"

// TypedJSONHandler serves the typed-JSON 1.0 dialect for one service:
// the action rides in the X-Amz-Target header as "Prefix.Action", the
// body is the input document, and errors come back as
// {"__type": code, "message": ...}.
func TypedJSONHandler(table *Table, service string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeTypedJSONError(w, apiErrorf(http.StatusMethodNotAllowed, "MethodNotAllowed", "only POST is accepted"))
			return
		}

		target := r.Header.Get("X-Amz-Target")
		_, action, ok := strings.Cut(target, ".")
		if !ok || action == "" {
			writeTypedJSONError(w, apiErrorf(http.StatusBadRequest, "MissingAction", "missing or malformed X-Amz-Target header"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeTypedJSONError(w, apiErrorf(http.StatusBadRequest, "InvalidRequest", "reading request body: %v", err))
			return
		}
		if len(body) == 0 {
			body = []byte("{}")
		}

		out, err := table.Invoke(r.Context(), service, action, body)
		if err != nil {
			writeTypedJSONError(w, asAPIError(err))
			return
		}

		if out == nil {
			out = struct{}{}
		}
		payload, err := json.Marshal(out)
		if err != nil {
			writeTypedJSONError(w, apiErrorf(http.StatusInternalServerError, "InternalFailure", "encoding response: %v", err))
			return
		}
		w.Header().Set("Content-Type", typedJSONContentType)
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	})
}

func writeTypedJSONError(w http.ResponseWriter, apiErr *APIError) {
	body, _ := json.Marshal(map[string]string{
		"__type":  apiErr.Code,
		"message": apiErr.Message,
	})
	w.Header().Set("Content-Type", typedJSONContentType)
	w.WriteHeader(apiErr.Status)
	w.Write(body)
}
