package optd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rodline/procopt/pkg/utils"
)

func TestNotifierRetriesUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	var mu sync.Mutex
	var got StepNotification
	var path, secret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		path, secret = r.URL.Path, r.Header.Get("X-Procopt-Callback-Secret")
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL+"/hooks/{session_id}", "s3cret").
		WithRetry(2, &utils.ConstantBackoff{Delay: time.Millisecond})
	n.Notify(StepNotification{SessionID: "abc", HistoryLength: 2})
	n.Wait()

	mu.Lock()
	defer mu.Unlock()
	if attempts.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts.Load())
	}
	if path != "/hooks/abc" || secret != "s3cret" {
		t.Fatalf("unexpected request path %q secret %q", path, secret)
	}
	if got.SessionID != "abc" || got.HistoryLength != 2 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestNotifierGivesUp(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "").WithRetry(1, &utils.ConstantBackoff{Delay: time.Millisecond})
	n.Notify(StepNotification{SessionID: "abc"})
	n.Wait()
	if attempts.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestOptimizeSendsStepNotification(t *testing.T) {
	received := make(chan StepNotification, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p StepNotification
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
	}))
	defer hook.Close()

	notifier := NewNotifier(hook.URL, "")
	h := NewHTTPServer(newTestService(t, metalTempModel(), Options{Notifier: notifier})).Handler()
	id := createSession(t, h, nil)
	if rr, _ := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/optimize", map[string]any{"parameters": []string{"MetalTemp"}}); rr.Code != http.StatusOK {
		t.Fatalf("optimize: expected 200, got %d", rr.Code)
	}
	notifier.Wait()

	select {
	case p := <-received:
		if p.SessionID != id || p.HistoryLength != 2 || p.Report == nil {
			t.Fatalf("unexpected notification %+v", p)
		}
	default:
		t.Fatalf("expected a step notification")
	}
}
