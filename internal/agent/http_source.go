package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ChuLiYu/knock-server/pkg/types"
)

// HTTPSource talks to the coordinator's HTTP API.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a source for baseURL, e.g. http://localhost:5000.
// A nil client gets a 5 second timeout.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Poll calls GET /api/poll?id=deviceID.
func (s *HTTPSource) Poll(ctx context.Context, deviceID string) (types.PollResponse, error) {
	endpoint := s.baseURL + "/api/poll?id=" + url.QueryEscape(deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.PollResponse{}, err
	}

	var resp types.PollResponse
	if err := s.do(req, &resp); err != nil {
		return types.PollResponse{}, fmt.Errorf("http poll failed: %w", err)
	}
	return resp, nil
}

// Confirm calls POST /api/confirm-knock.
func (s *HTTPSource) Confirm(ctx context.Context, jobID types.JobID, deviceID string) error {
	body, err := json.Marshal(map[string]string{
		"job_id":    string(jobID),
		"device_id": deviceID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/confirm-knock", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if err := s.do(req, nil); err != nil {
		return fmt.Errorf("http confirm failed: %w", err)
	}
	return nil
}

func (s *HTTPSource) do(req *http.Request, out any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
