package optd

import (
	"context"
	"errors"
	"net/http"

	"github.com/rodline/procopt/internal/bootstrap"
	"github.com/rodline/procopt/internal/improvement"
	"github.com/rodline/procopt/internal/oracle"
	"github.com/rodline/procopt/internal/session"
	"github.com/rodline/procopt/pkg/models"
	"google.golang.org/grpc/codes"
)

var (
	// ErrRateLimited is returned when a session starts optimizations too often
	ErrRateLimited = errors.New("optimize rate limit exceeded")
	// ErrBadRequest marks malformed request bodies
	ErrBadRequest = errors.New("bad request")
)

// errorClass is how one error kind is reported over HTTP and gRPC
type errorClass struct {
	status int
	code   string
	grpc   codes.Code
}

var (
	classInternal = errorClass{http.StatusInternalServerError, "internal", codes.Internal}

	sentinelClasses = []struct {
		err   error
		class errorClass
	}{
		{session.ErrSessionNotFound, errorClass{http.StatusNotFound, "session_not_found", codes.NotFound}},
		{session.ErrSessionBusy, errorClass{http.StatusConflict, "session_busy", codes.Aborted}},
		{session.ErrNothingToUndo, errorClass{http.StatusConflict, "nothing_to_undo", codes.FailedPrecondition}},
		{ErrRateLimited, errorClass{http.StatusTooManyRequests, "rate_limited", codes.ResourceExhausted}},
		{ErrBadRequest, errorClass{http.StatusBadRequest, "bad_request", codes.InvalidArgument}},
		{session.ErrOracleUnavailable, errorClass{http.StatusBadGateway, "oracle_unavailable", codes.Unavailable}},
		{improvement.ErrNoFeasibleEvaluation, errorClass{http.StatusBadGateway, "oracle_unavailable", codes.Unavailable}},
		{oracle.ErrCircuitOpen, errorClass{http.StatusServiceUnavailable, "oracle_unavailable", codes.Unavailable}},
		{context.DeadlineExceeded, errorClass{http.StatusGatewayTimeout, "timeout", codes.DeadlineExceeded}},
		{context.Canceled, errorClass{http.StatusServiceUnavailable, "cancelled", codes.Canceled}},
	}
)

// classify maps domain errors to their transport representation
func classify(err error) errorClass {
	var (
		zero       *improvement.ZeroDesiredValueError
		degenerate *improvement.DegenerateSearchIntervalError
		selection  *models.InvalidSelectionError
		unknown    *models.UnknownParameterError
		weights    *models.InvalidWeightsError
		missing    *bootstrap.MissingParameterError
		invalid    *oracle.InvalidPredictionError
	)
	switch {
	case errors.As(err, &zero):
		return errorClass{http.StatusUnprocessableEntity, "zero_desired_value", codes.InvalidArgument}
	case errors.As(err, &degenerate):
		return errorClass{http.StatusUnprocessableEntity, "degenerate_search_interval", codes.FailedPrecondition}
	case errors.As(err, &selection):
		return errorClass{http.StatusBadRequest, "invalid_selection", codes.InvalidArgument}
	case errors.As(err, &unknown):
		return errorClass{http.StatusBadRequest, "unknown_parameter", codes.InvalidArgument}
	case errors.As(err, &weights):
		return errorClass{http.StatusBadRequest, "invalid_weights", codes.InvalidArgument}
	case errors.As(err, &missing):
		return errorClass{http.StatusBadRequest, "missing_parameter", codes.InvalidArgument}
	case errors.As(err, &invalid):
		return errorClass{http.StatusBadGateway, "oracle_unavailable", codes.Unavailable}
	}
	for _, sc := range sentinelClasses {
		if errors.Is(err, sc.err) {
			return sc.class
		}
	}
	return classInternal
}

// sentinelForCode maps a wire error code back to the error a caller can match
func sentinelForCode(code string) error {
	for _, sc := range sentinelClasses {
		if sc.class.code == code {
			return sc.err
		}
	}
	return nil
}
