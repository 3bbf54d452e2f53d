package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/soyeahso/callbridge/internal/calls"
	"github.com/soyeahso/callbridge/internal/config"
	"github.com/soyeahso/callbridge/internal/gateway"
)

const apiTimeout = 10 * time.Second

// apiClient talks to the admin HTTP API of a running gateway.
type apiClient struct {
	http *resty.Client
}

// apiError is the error body returned by the admin API.
type apiError struct {
	Error string `json:"error"`
}

// newAPIClient targets server, or the loopback address of the configured
// gateway when server is empty. The bearer credential comes from the
// gateway auth settings.
func newAPIClient(cfg config.Config, server string) *apiClient {
	if server == "" {
		scheme := "http"
		if cfg.Gateway.TLS.Enabled {
			scheme = "https"
		}
		server = fmt.Sprintf("%s://127.0.0.1:%d", scheme, cfg.Gateway.Port)
	}
	c := resty.New().
		SetBaseURL(server).
		SetTimeout(apiTimeout).
		SetHeader("Accept", "application/json").
		SetError(&apiError{})

	auth := gateway.ResolveAuth(cfg.Gateway.Auth)
	switch {
	case auth.Token != "":
		c.SetAuthToken(auth.Token)
	case auth.Password != "":
		c.SetAuthToken(auth.Password)
	}
	return &apiClient{http: c}
}

func (c *apiClient) withToken(token string) *apiClient {
	if token != "" {
		c.http.SetAuthToken(token)
	}
	return c
}

func (c *apiClient) health(ctx context.Context) (string, error) {
	var out gateway.HealthResponse
	if err := c.do(ctx, "GET", "/health", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// callSummary mirrors the call view served by the admin API.
type callSummary struct {
	ID                string  `json:"id"`
	AgentID           string  `json:"agentId"`
	AgentType         string  `json:"agentType"`
	AgentName         string  `json:"agentName,omitempty"`
	BuyerID           string  `json:"buyerId"`
	PropertyID        string  `json:"propertyId"`
	StartTime         string  `json:"startTime"`
	EndTime           string  `json:"endTime,omitempty"`
	DurationFormatted *string `json:"durationFormatted"`
	Status            string  `json:"status"`
	TranscriptCount   int     `json:"transcriptCount"`
}

type callListResponse struct {
	Calls []callSummary `json:"calls"`
	Stats *calls.Stats  `json:"stats,omitempty"`
	Count int           `json:"count,omitempty"`
}

func (c *apiClient) listCalls(ctx context.Context, agentID, buyerID string, limit int) (callListResponse, error) {
	query := map[string]string{}
	if agentID != "" {
		query["agentId"] = agentID
	}
	if buyerID != "" {
		query["buyerId"] = buyerID
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	var out callListResponse
	err := c.do(ctx, "GET", "/api/calls", query, nil, &out)
	return out, err
}

func (c *apiClient) activeCalls(ctx context.Context) (callListResponse, error) {
	var out callListResponse
	err := c.do(ctx, "GET", "/api/calls/active", nil, nil, &out)
	return out, err
}

func (c *apiClient) endCall(ctx context.Context, id, reason string) (callSummary, error) {
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	var out struct {
		Call callSummary `json:"call"`
	}
	err := c.do(ctx, "POST", "/api/calls/"+id+"/end", nil, body, &out)
	return out.Call, err
}

func (c *apiClient) sweep(ctx context.Context) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	err := c.do(ctx, "POST", "/api/calls/sweep", nil, nil, &out)
	return out.Removed, err
}

func (c *apiClient) do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	req := c.http.R().SetContext(ctx).SetResult(out)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, e.Error, resp.StatusCode())
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status())
	}
	return nil
}
