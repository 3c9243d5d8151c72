package printer

import (
	"errors"

	"github.com/dyluth/geowatch/pkg/tracking"
)

// FromError prints an explanation for a tracking error and returns the
// short error for cobra. Unknown errors are printed as-is.
func FromError(err error) error {
	var netErr *tracking.NetworkError

	switch {
	case err == nil:
		return nil
	case errors.Is(err, tracking.ErrInvalidKey):
		return Error("invalid api key",
			"The tracking service rejected the API key.",
			[]string{"Check the key and run: geowatch login --key <KEY>"})
	case errors.Is(err, tracking.ErrInsufficientPrivilege):
		return Error("insufficient privilege",
			"The API key is valid but does not belong to an administrator.",
			[]string{"Log in with an administrator key: geowatch login --key <KEY>"})
	case errors.Is(err, tracking.ErrSessionExpired):
		return Error("session expired",
			"The saved API key is no longer accepted and has been cleared.",
			[]string{"Log in again: geowatch login --key <KEY>"})
	case errors.Is(err, tracking.ErrNotAuthenticated):
		return Error("not logged in",
			"This command needs an authenticated session.",
			[]string{"Run: geowatch login --key <KEY>"})
	case errors.Is(err, tracking.ErrInvalidRange):
		return Error("invalid time range",
			err.Error(),
			[]string{"Make sure --from is earlier than --to"})
	case errors.Is(err, tracking.ErrNonNumericField):
		return Error("invalid number",
			err.Error(),
			[]string{"Use plain decimal numbers, e.g. 55.751 or 120"})
	case errors.As(err, &netErr):
		ctx := map[string]string{"request": netErr.Op}
		if netErr.StatusCode != 0 {
			ctx["status"] = httpStatus(netErr.StatusCode)
		}
		return ErrorWithContext("tracking service unavailable",
			netErr.Err.Error(), ctx,
			[]string{"Check api.base_url in geowatch.yml (or GEOWATCH_API_URL)", "Retry once the service is reachable"})
	default:
		return Error("geowatch failed", err.Error(), nil)
	}
}
