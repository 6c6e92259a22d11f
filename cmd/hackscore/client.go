package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mattjoyce/hackscore/internal/api"
)

const defaultAPIURL = "http://127.0.0.1:8080"

// apiFlags registers the flags shared by commands that talk to a running
// service.
func apiFlags(fs *flag.FlagSet) (apiURL, apiKey *string) {
	apiURL = fs.String("api-url", envOr("HACKSCORE_API_URL", defaultAPIURL), "Operator API URL")
	apiKey = fs.String("api-key", os.Getenv("HACKSCORE_API_KEY"), "API bearer token")
	return apiURL, apiKey
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// opsClient calls the operator API for queue and scoring actions.
type opsClient struct {
	http *resty.Client
}

func newOpsClient(apiURL, apiKey string) *opsClient {
	return &opsClient{
		http: resty.New().
			SetBaseURL(strings.TrimRight(apiURL, "/")).
			SetAuthToken(apiKey).
			SetTimeout(10 * time.Second),
	}
}

// do sends one request and decodes a JSON result or error body.
func (c *opsClient) do(ctx context.Context, method, path string, body, result any) error {
	var apiErr api.ErrorResponse
	req := c.http.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status(), apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status())
	}
	return nil
}

func (c *opsClient) QueueStatus(ctx context.Context) (api.QueueStatusResponse, error) {
	var out api.QueueStatusResponse
	err := c.do(ctx, http.MethodGet, "/queue", nil, &out)
	return out, err
}

func (c *opsClient) Score(ctx context.Context, submissionID string) (api.EnqueueResponse, error) {
	var out api.EnqueueResponse
	err := c.do(ctx, http.MethodPost, "/submissions/"+url.PathEscape(submissionID)+"/score", nil, &out)
	return out, err
}

func (c *opsClient) Rejudge(ctx context.Context, submissionID string) (api.EnqueueResponse, error) {
	var out api.EnqueueResponse
	err := c.do(ctx, http.MethodPost, "/submissions/"+url.PathEscape(submissionID)+"/rejudge", nil, &out)
	return out, err
}

func (c *opsClient) RejudgeAll(ctx context.Context, hackathonID string) (api.RejudgeAllResponse, error) {
	var out api.RejudgeAllResponse
	err := c.do(ctx, http.MethodPost, "/hackathons/"+url.PathEscape(hackathonID)+"/rejudge", nil, &out)
	return out, err
}

func (c *opsClient) Clear(ctx context.Context, hackathonID string) (api.ClearResponse, error) {
	path := "/queue"
	if hackathonID != "" {
		path += "?hackathon_id=" + url.QueryEscape(hackathonID)
	}
	var out api.ClearResponse
	err := c.do(ctx, http.MethodDelete, path, nil, &out)
	return out, err
}

func (c *opsClient) SetManualScore(ctx context.Context, submissionID string, score float64, comment string) (api.SubmissionResponse, error) {
	var out api.SubmissionResponse
	err := c.do(ctx, http.MethodPut, "/submissions/"+url.PathEscape(submissionID)+"/manual-score",
		api.ManualScoreRequest{Score: &score, Comment: comment}, &out)
	return out, err
}
