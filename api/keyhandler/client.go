package keyhandler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ruteri/custody-keyengine/api"
	"github.com/ruteri/custody-keyengine/params"
)

// Client talks to a remote key engine API.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a client for the engine at url
// (e.g. "http://127.0.0.1:8080").
func NewClient(url string) *Client {
	return &Client{url: url, http: http.DefaultClient}
}

func (c *Client) Status() (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.do(http.MethodGet, "/api/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) PublicKey(purpose params.Purpose) (*api.PublicKeyResponse, error) {
	var resp api.PublicKeyResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/v1/keys/%s", purpose), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Sign(purpose params.Purpose, req api.SignRequest) (*api.SignResponse, error) {
	var resp api.SignResponse
	if err := c.do(http.MethodPost, fmt.Sprintf("/api/v1/keys/%s/sign", purpose), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Reshare(req api.ReshareRequest) (*api.LevelResponse, error) {
	var resp api.LevelResponse
	if err := c.do(http.MethodPost, "/api/v1/shards/reshare", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitShard sends one signed shard and returns the engine status after it
// was applied.
func (c *Client) SubmitShard(req api.SubmitShardRequest) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.do(http.MethodPost, "/api/v1/shards/submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.url+path, reader)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not request %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("could not parse response: %w", err)
	}
	return nil
}
