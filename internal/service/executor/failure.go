package executor

import (
	"errors"
	"fmt"
	"net/http"

	"HistPull/internal/domain/models"
	"HistPull/internal/service/marketdata"
)

// FailureKind classifies why a sub-range fetch did not yield candles.
type FailureKind string

const (
	KindTimeout          FailureKind = "timeout"
	KindTransient        FailureKind = "transient"
	KindRateLimited      FailureKind = "rate_limited"
	KindEmptyData        FailureKind = "empty_data"
	KindAuthExpired      FailureKind = "auth_expired"
	KindViolationCeiling FailureKind = "violation_ceiling"
	KindRejected         FailureKind = "rejected"
)

// IsFatal reports whether the kind must halt the whole run.
func (k FailureKind) IsFatal() bool {
	return k == KindAuthExpired || k == KindViolationCeiling
}

// Provider error codes that mean the access token is no longer usable.
var authCodes = map[int]struct{}{
	-8:   {},
	-15:  {},
	-16:  {},
	-17:  {},
	-300: {},
}

const providerRateLimitCode = 429

// Failure is the error returned by Fetch for every non-success outcome.
type Failure struct {
	Kind  FailureKind
	Key   models.TaskKey
	Range models.DateSubRange
	Err   error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s %s [%s]: %v", f.Kind, f.Key, f.Range, f.Err)
	}
	return fmt.Sprintf("%s %s [%s]", f.Kind, f.Key, f.Range)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsFatal reports whether the failure must halt the run.
func (f *Failure) IsFatal() bool { return f.Kind.IsFatal() }

// KindOf extracts the FailureKind from err, or "" when err is not a *Failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsFatal reports whether err carries a fatal Failure.
func IsFatal(err error) bool {
	return KindOf(err).IsFatal()
}

// classifyError maps a provider call error onto a kind.
func classifyError(err error) FailureKind {
	var apiErr *marketdata.APIError
	if !errors.As(err, &apiErr) {
		return KindTransient
	}
	if _, ok := authCodes[apiErr.Code]; ok {
		return KindAuthExpired
	}
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
		return KindAuthExpired
	case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.Code == providerRateLimitCode:
		return KindRateLimited
	case apiErr.StatusCode >= http.StatusInternalServerError:
		return KindTransient
	}
	return KindRejected
}

// classifyStatus maps an error reply carried in a 2xx body onto a kind.
func classifyStatus(code int) FailureKind {
	if _, ok := authCodes[code]; ok {
		return KindAuthExpired
	}
	if code == providerRateLimitCode {
		return KindRateLimited
	}
	return KindRejected
}
