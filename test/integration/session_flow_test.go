//go:build integration
// +build integration

package integration_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rodline/procopt/internal/improvement"
	"github.com/rodline/procopt/internal/optd"
	"github.com/rodline/procopt/internal/oracle"
	"github.com/rodline/procopt/internal/session"
	"github.com/rodline/procopt/internal/store"
	"github.com/rodline/procopt/pkg/config"
	"github.com/rodline/procopt/pkg/models"
)

var target = models.Triplet{200, 10, 55}

// modelServer serves the prediction API; the target is hit exactly at metalTemp 750
func modelServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body map[string]float64
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d := (body["metalTemp"] - 750) / 50
		f := 1 + d*d
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]float64{
			"uts":          target[0] * f,
			"elongation":   target[1] * f,
			"conductivity": target[2] * f,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type stack struct {
	client  *optd.Client
	manager *session.Manager
	db      *store.Store
	calls   *atomic.Int32
}

func newStack(t *testing.T, dbPath string) *stack {
	t.Helper()
	cfg := config.DefaultConfig()
	calls := new(atomic.Int32)
	cfg.Oracle.URL = modelServer(t, calls).URL

	mapping, err := cfg.NameMapping()
	if err != nil {
		t.Fatalf("NameMapping: %v", err)
	}
	features, err := oracle.ExternalFeatures(mapping, cfg.ParameterNames())
	if err != nil {
		t.Fatalf("ExternalFeatures: %v", err)
	}
	model, err := oracle.NewClient(cfg.Oracle, features)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = model.Close() })

	space, err := improvement.NewSearchSpaceBuilder(improvement.SpecsFromConfig(cfg.Parameters))
	if err != nil {
		t.Fatalf("NewSearchSpaceBuilder: %v", err)
	}
	optimizer := improvement.NewOptimizer(model, space, improvement.SettingsFromConfig(cfg.Optimizer))

	db, err := store.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	manager := session.NewManager(optimizer, db, cfg.Optimizer.WeightTriplet())
	if _, err := db.RestoreAll(context.Background(), manager); err != nil {
		t.Fatalf("RestoreAll: %v", err)
	}
	service := optd.NewService(manager, optd.Options{
		Mapping:       mapping,
		BootstrapPath: "../../config/last_prediction.json",
	})
	daemon := httptest.NewServer(optd.NewHTTPServer(service).Handler())
	t.Cleanup(daemon.Close)

	return &stack{
		client:  optd.NewClient(daemon.URL, daemon.Client()),
		manager: manager,
		db:      db,
		calls:   calls,
	}
}

func createTargetSession(t *testing.T, s *stack) {
	t.Helper()
	err := s.client.Create(context.Background(), optd.CreateRequest{
		Desired: &optd.Desired{UTS: target[0], Elongation: target[1], Conductivity: target[2]},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestIntegration_OptimizeReachesTarget(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "procopt.db"))
	createTargetSession(t, s)

	report, err := s.client.Optimize(context.Background(), []string{"MetalTemp"}, nil)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	temp, _ := report.Result.Get("MetalTemp")
	if temp < 600 || temp > 800 {
		t.Fatalf("MetalTemp %v outside the configured bounds", temp)
	}
	if math.Abs(temp-750) > 5 || report.AfterError > 1 {
		t.Fatalf("expected MetalTemp near 750 with error near 0, got %v / %.3f", temp, report.AfterError)
	}
	if report.AfterError >= report.BeforeError {
		t.Fatalf("expected error to drop from %.3f, got %.3f", report.BeforeError, report.AfterError)
	}
	if si, _ := report.Result.Get("SI"); si != 0.05 {
		t.Fatalf("unselected parameter SI changed to %v", si)
	}
}

func TestIntegration_ZeroDesiredMakesNoOracleCalls(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "procopt.db"))

	err := s.client.Create(context.Background(), optd.CreateRequest{Desired: &optd.Desired{UTS: 0, Elongation: 10, Conductivity: 55}})
	var apiErr *optd.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for zero desired value, got %v", err)
	}
	if n := s.calls.Load(); n != 0 {
		t.Fatalf("expected no oracle calls, got %d", n)
	}
}

func TestIntegration_UndoAndResetSurviveRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "procopt.db")
	s := newStack(t, dbPath)
	createTargetSession(t, s)
	ctx := context.Background()
	root := s.client.Current()

	for _, name := range []string{"MetalTemp", "CastingWheel_RPM", "EmulsionTemp"} {
		if _, err := s.client.Optimize(ctx, []string{name}, nil); err != nil {
			t.Fatalf("Optimize %s: %v", name, err)
		}
	}
	afterTwo := mustHistory(t, s, s.client.ID())[2].Params

	if err := s.client.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if !s.client.Current().Equal(afterTwo) {
		t.Fatalf("undo did not restore the previous step")
	}

	// a new daemon over the same database sees the same history
	restarted := newStack(t, dbPath)
	if _, err := restarted.client.Attach(ctx, s.client.ID()); err != nil {
		t.Fatalf("Attach after restart: %v", err)
	}
	if !restarted.client.Current().Equal(afterTwo) {
		t.Fatalf("restored session has different current parameters")
	}
	if restarted.client.Desired() != target {
		t.Fatalf("restored desired %v, want %v", restarted.client.Desired(), target)
	}

	if err := restarted.client.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !restarted.client.Current().Equal(root) {
		t.Fatalf("reset did not restore the original parameters")
	}
	if err := restarted.client.Undo(ctx); !errors.Is(err, session.ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo at root, got %v", err)
	}
	if got := len(mustHistory(t, restarted, s.client.ID())); got != 1 {
		t.Fatalf("expected history of 1 after reset, got %d", got)
	}
}

func mustHistory(t *testing.T, s *stack, id string) []session.Entry {
	t.Helper()
	sess, err := s.manager.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return sess.History()
}
