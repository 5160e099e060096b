package optd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/rodline/procopt/internal/bootstrap"
	"github.com/rodline/procopt/internal/improvement"
	"github.com/rodline/procopt/internal/oracle"
	"github.com/rodline/procopt/internal/session"
	"github.com/rodline/procopt/pkg/models"
	"google.golang.org/grpc/codes"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		grpc   codes.Code
	}{
		{"zero desired", &improvement.ZeroDesiredValueError{Index: 0}, http.StatusUnprocessableEntity, "zero_desired_value", codes.InvalidArgument},
		{"degenerate interval", fmt.Errorf("build: %w", &improvement.DegenerateSearchIntervalError{Name: "SI"}), http.StatusUnprocessableEntity, "degenerate_search_interval", codes.FailedPrecondition},
		{"unknown parameter", &models.UnknownParameterError{Name: "Voltage"}, http.StatusBadRequest, "unknown_parameter", codes.InvalidArgument},
		{"invalid selection", &models.InvalidSelectionError{Reason: "empty"}, http.StatusBadRequest, "invalid_selection", codes.InvalidArgument},
		{"invalid weights", &models.InvalidWeightsError{Reason: "zero"}, http.StatusBadRequest, "invalid_weights", codes.InvalidArgument},
		{"missing parameter", &bootstrap.MissingParameterError{External: "si"}, http.StatusBadRequest, "missing_parameter", codes.InvalidArgument},
		{"not found", fmt.Errorf("%w: x", session.ErrSessionNotFound), http.StatusNotFound, "session_not_found", codes.NotFound},
		{"busy", session.ErrSessionBusy, http.StatusConflict, "session_busy", codes.Aborted},
		{"nothing to undo", session.ErrNothingToUndo, http.StatusConflict, "nothing_to_undo", codes.FailedPrecondition},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited", codes.ResourceExhausted},
		{"oracle down", fmt.Errorf("%w: predict: %w", session.ErrOracleUnavailable, errors.New("refused")), http.StatusBadGateway, "oracle_unavailable", codes.Unavailable},
		{"no feasible evaluation", improvement.ErrNoFeasibleEvaluation, http.StatusBadGateway, "oracle_unavailable", codes.Unavailable},
		{"circuit open", oracle.ErrCircuitOpen, http.StatusServiceUnavailable, "oracle_unavailable", codes.Unavailable},
		{"deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout", codes.DeadlineExceeded},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "internal", codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := classify(tt.err)
			if c.status != tt.status || c.code != tt.code || c.grpc != tt.grpc {
				t.Fatalf("expected %d/%s/%v, got %d/%s/%v", tt.status, tt.code, tt.grpc, c.status, c.code, c.grpc)
			}
		})
	}
}

func TestAPIErrorUnwrap(t *testing.T) {
	err := &APIError{Status: http.StatusConflict, Code: "session_busy", Message: "busy"}
	if !errors.Is(err, session.ErrSessionBusy) {
		t.Fatalf("expected APIError to match ErrSessionBusy")
	}
	if errors.Unwrap(&APIError{Code: "internal"}) != nil {
		t.Fatalf("expected no sentinel for internal errors")
	}
}
