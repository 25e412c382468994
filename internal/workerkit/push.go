package workerkit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
)

// pusher delivers terminal status to the host's callback URL.
type pusher struct {
	client   *http.Client
	attempts uint64
}

func newPusher(client *http.Client) *pusher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &pusher{client: client, attempts: 3}
}

// push POSTs ev, retrying 5xx and network errors. A 4xx answer means the host
// no longer wants the result and is not retried.
func (p *pusher) push(url string, ev remote.PushEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[worker %s] encode push for task %s: %v", ev.Worker, ev.TaskID, err)
		return
	}

	op := func() error {
		// The client's Timeout, if any, bounds each attempt.
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("host responded %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("host responded %d", resp.StatusCode))
		}
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.attempts-1)
	if err := backoff.Retry(op, b); err != nil {
		log.Printf("[worker %s] push for task %s failed: %v", ev.Worker, ev.TaskID, err)
	}
}
