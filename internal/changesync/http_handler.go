package changesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/roach88/offlinesync/internal/model"
)

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Batch is the request body sent by HTTPHandler.
type Batch struct {
	Changes []model.PendingChange `json:"changes"`
}

// HTTPHandler uploads a round's snapshot as one JSON batch. Any non-2xx
// response fails the round.
type HTTPHandler struct {
	Client  Doer
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// Sync implements SyncHandler.
func (h *HTTPHandler) Sync(ctx context.Context, changes []model.PendingChange) error {
	body, err := json.Marshal(Batch{Changes: changes})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sync request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sync rejected: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
