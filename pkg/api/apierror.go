// Package api serves lottery operations over HTTP. Errors are RFC 7807
// problem documents.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/Mindburn-Labs/likelottery/pkg/auth"
	"github.com/Mindburn-Labs/likelottery/pkg/lottery"
)

const problemTypeBase = "https://likelottery.dev/errors/"

// ProblemDetail implements RFC 7807. Kind carries the lottery error kind when
// the failure came from a lottery operation.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, r *http.Request, p *ProblemDetail) {
	if p.Type == "" {
		p.Type = problemTypeBase + strconv.Itoa(p.Status)
	}
	if r != nil {
		p.Instance = r.URL.Path
		p.TraceID = auth.GetRequestID(r.Context())
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes a problem document for status. r may be nil.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, r, &ProblemDetail{Title: title, Status: status, Detail: detail})
}

func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized matches auth.UnauthorizedFunc.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="likelottery"`)
	WriteError(w, r, http.StatusUnauthorized, "Unauthorized", detail)
}

func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusNotFound, "Not Found", detail)
}

// WriteTooManyRequests writes a 429 with Retry-After rounded up to whole seconds.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int, detail string) {
	if retryAfterSecs < 1 {
		retryAfterSecs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	if detail == "" {
		detail = "Rate limit exceeded. Retry after the specified interval."
	}
	WriteError(w, r, http.StatusTooManyRequests, "Too Many Requests", detail)
}

// WriteInternal logs err and writes a generic 500. err is never exposed.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	logger := slog.Default()
	if r != nil {
		logger = auth.Logger(r.Context())
	}
	logger.Error("internal server error", "error", err)
	WriteError(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteLotteryError maps a lottery operation failure onto a problem document.
func WriteLotteryError(w http.ResponseWriter, r *http.Request, err error) {
	var lerr *lottery.Error
	if !errors.As(err, &lerr) {
		var tooSoon *lottery.TooSoonError
		if !errors.As(err, &tooSoon) {
			WriteInternal(w, r, err)
			return
		}
		secs := int(math.Ceil(tooSoon.RetryAfter().Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeProblem(w, r, &ProblemDetail{
			Type:   problemTypeBase + tooSoon.Kind(),
			Title:  "Too Soon",
			Status: http.StatusTooManyRequests,
			Detail: err.Error(),
			Kind:   tooSoon.Kind(),
		})
		return
	}

	p := &ProblemDetail{Detail: err.Error(), Kind: lerr.Kind()}
	switch lerr {
	case lottery.ErrMalformedSignature, lottery.ErrInvalidArgument:
		p.Status, p.Title = http.StatusBadRequest, "Bad Request"
	case lottery.ErrUnauthorized:
		p.Status, p.Title = http.StatusForbidden, "Forbidden"
	case lottery.ErrAlreadyUsed:
		p.Status, p.Title = http.StatusConflict, "Conflict"
	case lottery.ErrNotInitialized:
		p.Status, p.Title = http.StatusServiceUnavailable, "Service Unavailable"
	case lottery.ErrNotFound:
		p.Status, p.Title = http.StatusNotFound, "Not Found"
	case lottery.ErrTooSoon:
		p.Status, p.Title = http.StatusTooManyRequests, "Too Soon"
		w.Header().Set("Retry-After", "1")
	default:
		WriteInternal(w, r, err)
		return
	}
	p.Type = problemTypeBase + lerr.Kind()
	writeProblem(w, r, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
