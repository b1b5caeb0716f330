package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relayloop/campaignd/client"
	"github.com/relayloop/campaignd/errors"
	"github.com/relayloop/campaignd/job"
)

// httpHandler executes one job type by posting it to a provider endpoint.
type httpHandler struct {
	jobType job.Type
	url     string
	caller  *client.Caller
	http    *http.Client
	log     *zap.SugaredLogger
}

func newHTTPHandler(t job.Type, url string, caller *client.Caller, timeout time.Duration, log *zap.SugaredLogger) *httpHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpHandler{
		jobType: t,
		url:     url,
		caller:  caller,
		http:    &http.Client{Timeout: timeout},
		log:     log.Named(string(t)),
	}
}

// Type implements queue.Handler.
func (h *httpHandler) Type() job.Type {
	return h.jobType
}

// Execute posts the job to the provider through the breaker-guarded caller.
// Network faults and 5xx responses are retryable; a 4xx means the request
// itself is bad and retrying cannot help.
func (h *httpHandler) Execute(ctx context.Context, j *job.Job) error {
	return h.caller.Do(ctx, func(ctx context.Context) error {
		payload, err := json.Marshal(map[string]string{
			"job_id":      j.ID,
			"campaign_id": j.CampaignID,
			"type":        string(j.Type),
		})
		if err != nil {
			return errors.Wrap(err, "failed to encode provider request")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
		if err != nil {
			return errors.Wrap(err, "failed to build provider request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.http.Do(req)
		if err != nil {
			return client.Retryable(errors.Wrapf(err, "%s call failed", h.caller.Service()))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			body := readSnippet(resp.Body)
			return client.Retryable(errors.Newf("%s returned %d: %s", h.caller.Service(), resp.StatusCode, body))
		default:
			body := readSnippet(resp.Body)
			return errors.Newf("%s rejected request with %d: %s", h.caller.Service(), resp.StatusCode, body)
		}
	})
}

// readSnippet returns up to 512 bytes of a response body for error context.
func readSnippet(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(b) == 0 {
		return "<no body>"
	}
	return string(b)
}
