package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/unicro/uniscout/internal/auth"
)

// Response is the envelope of every JSON response.
type Response struct {
	Result        string      `json:"result"`
	Data          interface{} `json:"data,omitempty"`
	Code          string      `json:"code,omitempty"`
	Message       string      `json:"message,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	writeResponse(w, http.StatusOK, &Response{
		Result:        "ok",
		Data:          data,
		CorrelationID: correlationID(w),
	})
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details interface{}) {
	writeResponse(w, statusCode, &Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: correlationID(w),
	})
}

// WriteAPIError maps err with ToAPIError and writes it.
func WriteAPIError(w http.ResponseWriter, err error) {
	apiErr := ToAPIError(err)
	WriteError(w, apiErr.StatusCode, apiErr.Code, apiErr.Message, apiErr.Details)
}

func writeResponse(w http.ResponseWriter, statusCode int, response *Response) {
	body, err := json.Marshal(response)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Internal server error: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(append(body, '\n'))
}

// correlationID returns the id assigned by the correlation middleware, or a
// fresh one for responses written outside it.
func correlationID(w http.ResponseWriter) string {
	if id := w.Header().Get(auth.CorrelationHeader); id != "" {
		return id
	}
	return uuid.NewString()
}
