package cli

import (
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

// apiClient is the admin side of the coordinator's HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type devicesResponse struct {
	Count   int                    `json:"count"`
	Devices []types.WorkerSnapshot `json:"devices"`
}

type logsResponse struct {
	Logs []string `json:"logs"`
}

type summaryResponse struct {
	OnlineCount int              `json:"online_count"`
	Queue       types.QueueStats `json:"queue"`
}

// SubmitJob calls POST /api/queue-knock.
func (c *apiClient) SubmitJob(ctx context.Context, target string) (types.JobID, error) {
	endpoint := c.baseURL + "/api/queue-knock"
	if target != "" {
		endpoint += "?target=" + url.QueryEscape(target)
	}

	var out struct {
		JobID types.JobID `json:"job_id"`
	}
	if err := c.call(ctx, http.MethodPost, endpoint, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

func (c *apiClient) Devices(ctx context.Context) (devicesResponse, error) {
	var out devicesResponse
	err := c.call(ctx, http.MethodGet, c.baseURL+"/api/devices", &out)
	return out, err
}

func (c *apiClient) Logs(ctx context.Context) ([]string, error) {
	var out logsResponse
	err := c.call(ctx, http.MethodGet, c.baseURL+"/api/logs", &out)
	return out.Logs, err
}

func (c *apiClient) Summary(ctx context.Context) (summaryResponse, error) {
	var out summaryResponse
	err := c.call(ctx, http.MethodGet, c.baseURL+"/api/summary", &out)
	return out, err
}

func (c *apiClient) call(ctx context.Context, method, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
