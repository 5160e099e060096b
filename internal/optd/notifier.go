package optd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rodline/procopt/internal/session"
	"github.com/rodline/procopt/pkg/logger"
	"github.com/rodline/procopt/pkg/models"
	"github.com/rodline/procopt/pkg/utils"
)

// StepNotification is the JSON payload posted to the callback URL after a committed step
type StepNotification struct {
	SessionID     string             `json:"session_id"`
	State         session.State      `json:"state"`
	HistoryLength int                `json:"history_length"`
	Report        *models.StepReport `json:"report"`
	Timestamp     int64              `json:"timestamp"` // unix ms when the notification was built
}

// Notifier posts step notifications to a callback URL
type Notifier struct {
	url        string
	secret     string
	httpClient *http.Client
	maxRetries int
	backoff    utils.BackoffStrategy
	wg         sync.WaitGroup
}

// NewNotifier creates a notifier for url; {session_id} in url is replaced per notification
func NewNotifier(url, secret string) *Notifier {
	return &Notifier{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries: 3,
		backoff:    &utils.ExponentialBackoff{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second},
	}
}

// WithRetry overrides the retry count and backoff
func (n *Notifier) WithRetry(maxRetries int, backoff utils.BackoffStrategy) *Notifier {
	n.maxRetries = maxRetries
	n.backoff = backoff
	return n
}

// Notify sends p in the background and returns immediately
func (n *Notifier) Notify(p StepNotification) {
	if n == nil || n.url == "" {
		return
	}
	finalURL := strings.ReplaceAll(n.url, "{session_id}", p.SessionID)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.send(finalURL, p)
	}()
}

// Wait blocks until every pending notification finished or gave up
func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}

func (n *Notifier) send(url string, p StepNotification) {
	body, err := json.Marshal(p)
	if err != nil {
		logger.Error("failed to marshal step notification", "session_id", p.SessionID, "error", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			delay := n.backoff.NextDelay(attempt - 1)
			logger.Debug("retrying step notification", "session_id", p.SessionID, "attempt", attempt, "delay", delay)
			_ = utils.Wait(context.Background(), delay)
		}

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "procopt/1.0")
		if n.secret != "" {
			req.Header.Set("X-Procopt-Callback-Secret", n.secret)
		}

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			logger.Warn("step notification attempt failed", "session_id", p.SessionID, "attempt", attempt+1, "error", err)
			continue
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			logger.Info("step notification sent", "session_id", p.SessionID, "status_code", resp.StatusCode)
			return
		}
		lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		logger.Warn("step notification returned non-2xx status",
			"session_id", p.SessionID,
			"status_code", resp.StatusCode,
			"response_body", string(snippet),
			"attempt", attempt+1)
	}

	logger.Error("failed to send step notification after retries",
		"session_id", p.SessionID,
		"max_retries", n.maxRetries,
		"last_error", lastErr)
}
