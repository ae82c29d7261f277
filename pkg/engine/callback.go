package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/arenabench/arena/pkg/log"
	"github.com/arenabench/arena/pkg/types"
)

// Notifier pushes run deltas to the UI process with a best-effort HTTP
// PATCH. The in-process store stays authoritative; a failed PATCH is
// logged and ignored and never stalls the pipeline.
type Notifier struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewNotifier creates a notifier for the UI at baseURL.
func NewNotifier(baseURL string) *Notifier {
	return &Notifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		logger:  log.WithComponent("engine"),
	}
}

// RunUpdated sends the run snapshot to the UI asynchronously.
func (n *Notifier) RunUpdated(run *types.Run) {
	if n == nil || n.baseURL == "" {
		return
	}
	go n.patch(run)
}

func (n *Notifier) patch(run *types.Run) {
	body, err := json.Marshal(run)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/api/runs/%s", n.baseURL, run.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Debug().Err(err).
			Str("run_id", run.ID).Msg("UI callback failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		n.logger.Debug().Int("status", resp.StatusCode).
			Str("run_id", run.ID).Msg("UI callback rejected")
	}
}
