package optd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rodline/procopt/internal/policy"
)

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, out
}

func createSession(t *testing.T, h http.Handler, body any) string {
	t.Helper()
	rr, out := doJSON(t, h, http.MethodPost, "/v1/sessions", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	return out["session"].(map[string]any)["id"].(string)
}

func TestHealthz(t *testing.T) {
	h := NewHTTPServer(newTestService(t, metalTempModel(), Options{})).Handler()
	rr, out := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("unexpected health response %d %v", rr.Code, out)
	}
}

func TestCreateFromBootstrap(t *testing.T) {
	h := NewHTTPServer(newTestService(t, metalTempModel(), Options{})).Handler()
	id := createSession(t, h, nil)

	rr, out := doJSON(t, h, http.MethodGet, "/v1/sessions/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	sess := out["session"].(map[string]any)
	if sess["state"] != "idle" || sess["history_length"].(float64) != 1 {
		t.Fatalf("unexpected session %v", sess)
	}
	desired := sess["desired"].([]any)
	if desired[0].(float64) != 198.4 {
		t.Fatalf("expected desired from bootstrap prediction, got %v", desired)
	}
	params := sess["current_parameters"].(map[string]any)
	if params["MetalTemp"].(float64) != 722.19 {
		t.Fatalf("expected bootstrap parameters, got %v", params)
	}
	if _, ok := out["prediction"]; !ok {
		t.Fatalf("expected live prediction, got %v", out)
	}

	rr, out = doJSON(t, h, http.MethodGet, "/v1/sessions", nil)
	if rr.Code != http.StatusOK || len(out["sessions"].([]any)) != 1 {
		t.Fatalf("unexpected list response %v", out)
	}
}

func TestOptimizeUndoResetFlow(t *testing.T) {
	h := NewHTTPServer(newTestService(t, metalTempModel(), Options{})).Handler()
	id := createSession(t, h, map[string]any{
		"desired": map[string]float64{"uts": 200, "elongation": 10, "conductivity": 55},
	})
	base := "/v1/sessions/" + id

	rr, out := doJSON(t, h, http.MethodPost, base+"/optimize", map[string]any{"parameters": []string{"metalTemp"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("optimize: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	report := out["report"].(map[string]any)
	if report["evaluations"].(float64) != 10 {
		t.Fatalf("expected 10 evaluations, got %v", report["evaluations"])
	}
	if got := report["optimized_parameters"].([]any); len(got) != 1 || got[0] != "MetalTemp" {
		t.Fatalf("expected external name mapped to MetalTemp, got %v", got)
	}
	if len(out["progress"].([]any)) != 10 {
		t.Fatalf("expected 10 progress points, got %d", len(out["progress"].([]any)))
	}
	if out["session"].(map[string]any)["state"] != "active" {
		t.Fatalf("expected active session after optimize")
	}

	rr, out = doJSON(t, h, http.MethodGet, base+"/trace", nil)
	if rr.Code != http.StatusOK || len(out["trace"].(map[string]any)["errors"].([]any)) != 10 {
		t.Fatalf("unexpected trace %d %v", rr.Code, out)
	}
	rr, out = doJSON(t, h, http.MethodGet, base+"/history", nil)
	if rr.Code != http.StatusOK || len(out["history"].([]any)) != 2 {
		t.Fatalf("unexpected history %d %v", rr.Code, out)
	}

	rr, _ = doJSON(t, h, http.MethodPost, base+"/undo", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("undo: expected 200, got %d", rr.Code)
	}
	rr, out = doJSON(t, h, http.MethodPost, base+"/undo", nil)
	if rr.Code != http.StatusConflict || out["code"] != "nothing_to_undo" {
		t.Fatalf("expected 409 nothing_to_undo, got %d %v", rr.Code, out)
	}
	rr, out = doJSON(t, h, http.MethodPost, base+"/reset", nil)
	if rr.Code != http.StatusOK || out["session"].(map[string]any)["history_length"].(float64) != 1 {
		t.Fatalf("unexpected reset response %d %v", rr.Code, out)
	}
}

func TestStructuredErrors(t *testing.T) {
	h := NewHTTPServer(newTestService(t, metalTempModel(), Options{})).Handler()
	id := createSession(t, h, nil)
	base := "/v1/sessions/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown session", http.MethodGet, "/v1/sessions/nope", nil, http.StatusNotFound, "session_not_found"},
		{"zero desired", http.MethodPost, base + "/desired", map[string]float64{"uts": 0, "elongation": 10, "conductivity": 55}, http.StatusUnprocessableEntity, "zero_desired_value"},
		{"unknown parameter", http.MethodPost, base + "/optimize", map[string]any{"parameters": []string{"Voltage"}}, http.StatusBadRequest, "unknown_parameter"},
		{"empty selection", http.MethodPost, base + "/optimize", map[string]any{"parameters": []string{}}, http.StatusBadRequest, "invalid_selection"},
		{"unknown field", http.MethodPost, base + "/optimize", map[string]any{"names": []string{"SI"}}, http.StatusBadRequest, "bad_request"},
		{"wrong method", http.MethodGet, base + "/undo", nil, http.StatusMethodNotAllowed, "method_not_allowed"},
		{"unknown action", http.MethodPost, base + "/explode", nil, http.StatusNotFound, "not_found"},
		{"missing create parameter", http.MethodPost, "/v1/sessions", map[string]any{"parameters": map[string]float64{"si": 1}}, http.StatusBadRequest, "missing_parameter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, out := doJSON(t, h, tt.method, tt.path, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if out["code"] != tt.code || out["error"] == "" {
				t.Fatalf("expected code %s with message, got %v", tt.code, out)
			}
		})
	}

	// failed requests never touch the session
	_, out := doJSON(t, h, http.MethodGet, base, nil)
	if out["session"].(map[string]any)["history_length"].(float64) != 1 {
		t.Fatalf("history changed by failed requests")
	}
}

func TestOptimizeRateLimited(t *testing.T) {
	limiter := policy.NewRateLimitingPolicy(true, 1, time.Hour)
	h := NewHTTPServer(newTestService(t, metalTempModel(), Options{Limiter: limiter})).Handler()
	id := createSession(t, h, nil)

	body := map[string]any{"parameters": []string{"MetalTemp"}}
	if rr, _ := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/optimize", body); rr.Code != http.StatusOK {
		t.Fatalf("first optimize: expected 200, got %d", rr.Code)
	}
	rr, out := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/optimize", body)
	if rr.Code != http.StatusTooManyRequests || out["code"] != "rate_limited" {
		t.Fatalf("expected 429 rate_limited, got %d %v", rr.Code, out)
	}

	// limits are per session
	other := createSession(t, h, nil)
	if rr, _ := doJSON(t, h, http.MethodPost, "/v1/sessions/"+other+"/optimize", body); rr.Code != http.StatusOK {
		t.Fatalf("other session: expected 200, got %d", rr.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	h := NewHTTPServer(newTestService(t, metalTempModel(), Options{})).Handler()
	id := createSession(t, h, nil)

	if rr, _ := doJSON(t, h, http.MethodDelete, "/v1/sessions/"+id, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr, _ := doJSON(t, h, http.MethodGet, "/v1/sessions/"+id, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}
