package handler

import (
	"errors"
	"net/http"
	"sort"

	"iam-gateway/internal/domain"

	"github.com/labstack/echo/v4"
)

// validationBody is the 422 payload for field-level input errors.
type validationBody struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

func newValidationBody(verr *domain.ValidationError) validationBody {
	fields := make([]string, 0, len(verr.Fields))
	for f := range verr.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	msg := "The given data was invalid."
	if len(fields) > 0 && len(verr.Fields[fields[0]]) > 0 {
		msg = verr.Fields[fields[0]][0]
	}
	return validationBody{Message: msg, Errors: verr.Fields}
}

var unauthenticatedBody = map[string]string{"error": "Unauthenticated"}

// mapDomainError converts a domain error into an appropriate echo.HTTPError.
func mapDomainError(err error) *echo.HTTPError {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, newValidationBody(verr)).SetInternal(err)

	case errors.Is(err, domain.ErrUnauthenticated),
		errors.Is(err, domain.ErrMissingToken),
		errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrIAMRejected),
		errors.Is(err, domain.ErrIAMUnavailable),
		errors.Is(err, domain.ErrIAMMalformed):
		// An unreachable authority reads as unauthenticated to the caller.
		return echo.NewHTTPError(http.StatusUnauthorized, unauthenticatedBody).SetInternal(err)

	case errors.Is(err, domain.ErrCSRFMismatch):
		return echo.NewHTTPError(http.StatusForbidden, "CSRF token mismatch").SetInternal(err)

	case errors.Is(err, domain.ErrTokenGeneration),
		errors.Is(err, domain.ErrCSRFSecretMissing):
		return echo.NewHTTPError(http.StatusInternalServerError, "token generation error").SetInternal(err)

	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrSessionStore):
		return echo.NewHTTPError(http.StatusInternalServerError, "session unavailable").SetInternal(err)

	case errors.Is(err, domain.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded").SetInternal(err)

	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

// remoteFailure reports an upstream OTP/phone failure as a field error
// carrying the authority's reason.
func remoteFailure(err error, field, fallback string) *echo.HTTPError {
	var re *domain.RemoteError
	if errors.As(err, &re) {
		return mapDomainError(domain.NewValidationError(field, domain.ReasonOf(err, fallback)))
	}
	return mapDomainError(err)
}
