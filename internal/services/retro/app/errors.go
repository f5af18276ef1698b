package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
	"github.com/louisbranch/retroboard/internal/platform/errors/i18n"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// localeFromRequest negotiates the error message locale from Accept-Language.
func localeFromRequest(r *http.Request) string {
	if r == nil {
		return i18n.BaseLocale
	}
	return i18n.MatchAcceptLanguage(r.Header.Get("Accept-Language"))
}

// errorBodyFor renders err for locale. Errors outside the taxonomy surface as
// UNKNOWN so internal messages never reach clients. A context error means the
// command was never applied and reports COMMAND_TIMEOUT.
func errorBodyFor(err error, locale string) errorBody {
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeUnknown {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			code = apperrors.CodeCommandTimeout
		}
	}
	var metadata map[string]string
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		metadata = domainErr.Metadata
	}
	return errorBody{
		Code:      string(code),
		Message:   i18n.GetCatalog(locale).Format(string(code), metadata),
		Retryable: code.Retryable(),
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	locale := localeFromRequest(r)
	body := errorBodyFor(err, locale)
	status := apperrors.Code(body.Code).HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("retro: request failed method=%s path=%q code=%s err=%v", r.Method, r.URL.Path, body.Code, err)
	}
	w.Header().Set("Content-Language", locale)
	writeJSON(w, status, errorEnvelope{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("retro: encode response: %v", err)
	}
}
