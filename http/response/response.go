package response

import (
	"encoding/json"
	"net/http"

	"github.com/godamri/helix-activity/pkg/contextx"
)

type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
	Meta    Meta   `json:"meta"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Meta struct {
	TraceID    string `json:"trace_id"`
	NextCursor *int64 `json:"nextCursor,omitempty"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, status, Envelope{
		Success: true,
		Data:    data,
		Meta:    Meta{TraceID: traceID(r)},
	})
}

// Paged writes a list response whose meta carries the cursor for the next page.
func Paged(w http.ResponseWriter, r *http.Request, data any, nextCursor *int64) {
	write(w, http.StatusOK, Envelope{
		Success: true,
		Data:    data,
		Meta:    Meta{TraceID: traceID(r), NextCursor: nextCursor},
	})
}

// Raw writes payload without the envelope.
func Raw(w http.ResponseWriter, status int, payload any) {
	write(w, status, payload)
}

func ErrorJSON(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	write(w, status, Envelope{
		Success: false,
		Error:   &Error{Code: code, Message: message},
		Meta:    Meta{TraceID: traceID(r)},
	})
}

// Fail writes an error envelope with the status mapped from code.
func Fail(w http.ResponseWriter, r *http.Request, code, message string) {
	ErrorJSON(w, r, MapStatus(code), code, message)
}

func write(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Nothing useful can be written once encoding fails mid-body.
	_ = json.NewEncoder(w).Encode(payload)
}

func traceID(r *http.Request) string {
	if tid := contextx.GetTraceID(r.Context()); tid != "untriaged" {
		return tid
	}
	return r.Header.Get("X-Trace-Id")
}
