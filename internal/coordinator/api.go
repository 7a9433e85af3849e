package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/montytest/worker/internal/metrics"
)

// HTTPTimeout is the per-request timeout used for all coordinator calls,
// matching the original's HTTP_TIMEOUT of 30 seconds.
const HTTPTimeout = 30 * time.Second

// UpdateTask posts an incremental (or final) statistics update for a task.
func (c *Client) UpdateTask(ctx context.Context, req *UpdateTaskRequest) (*UpdateTaskResponse, error) {
	var resp UpdateTaskResponse
	url := fmt.Sprintf("%s/api/update_task", c.Base)
	if err := c.PostJSON(ctx, url, req, &resp, HTTPTimeout); err != nil {
		return nil, err
	}
	metrics.UpdateTaskLatency.Observe(resp.Duration)
	return &resp, nil
}

// RequestSPSA asks the coordinator for the next batch's SPSA parameters.
func (c *Client) RequestSPSA(ctx context.Context, req *RequestSPSARequest) (*RequestSPSAResponse, error) {
	var resp RequestSPSAResponse
	url := fmt.Sprintf("%s/api/request_spsa", c.Base)
	if err := c.PostJSON(ctx, url, req, &resp, HTTPTimeout); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NetworkURL returns the URL to download a network file from.
func (c *Client) NetworkURL(name string) string {
	return fmt.Sprintf("%s/api/nn/%s", c.Base, name)
}
