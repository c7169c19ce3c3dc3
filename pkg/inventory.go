package pkg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type AgentInstance struct {
	ID      int    `json:"id"`
	Ordinal int    `json:"ordinal"`
	Name    string `json:"name"`
}

type Location struct {
	ID      int    `json:"id"`
	Ordinal int    `json:"ordinal"`
	Name    string `json:"name"`
}

type Device struct {
	BindTarget string   `json:"bindTarget"`
	Location   Location `json:"location"`
	Ordinal    int      `json:"ordinal"`
}

// InventoryClient talks to the inventory API over HTTP. Every request carries
// the x-api-key header and is scoped to one agent id.
type InventoryClient struct {
	baseURL string
	apiKey  string
	agentID string
	client  *http.Client
}

// NewInventoryClient panics on an empty baseURL or a nil client. A trailing
// slash on baseURL is ignored.
func NewInventoryClient(baseURL, apiKey, agentID string, client *http.Client) *InventoryClient {
	if baseURL == "" {
		panic("pkg.NewInventoryClient: baseURL is required")
	}
	if client == nil {
		panic("pkg.NewInventoryClient: http client is required")
	}
	return &InventoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		agentID: agentID,
		client:  client,
	}
}

// NewInventoryHTTPClient returns the client used for inventory calls.
func NewInventoryHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// AgentInstances performs GET baseURL/agentInstance?agentId=<id>.
func (c *InventoryClient) AgentInstances(ctx context.Context) ([]AgentInstance, error) {
	var out []AgentInstance
	if err := c.get(ctx, "/agentInstance", &out); err != nil {
		return nil, fmt.Errorf("fetch agent instances: %w", err)
	}
	return out, nil
}

// Devices performs GET baseURL/device?agentId=<id>.
func (c *InventoryClient) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	if err := c.get(ctx, "/device", &out); err != nil {
		return nil, fmt.Errorf("fetch devices: %w", err)
	}
	return out, nil
}

func (c *InventoryClient) get(ctx context.Context, path string, out interface{}) error {
	reqURL := c.baseURL + path + "?agentId=" + url.QueryEscape(c.agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInventory, err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInventory, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrInventory, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d", ErrInventory, path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrInventory, path, err)
	}
	return nil
}
