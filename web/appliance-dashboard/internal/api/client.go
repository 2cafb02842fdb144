package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"appliance-dashboard-go/internal/models"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New() *Client {
	base := os.Getenv("API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("health check failed: %s", resp.Status)
	}
	return nil
}

func (c *Client) Appliances(ctx context.Context) ([]models.Appliance, error) {
	var out []models.Appliance
	if err := c.getJSON(ctx, "/appliances", &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Measurements(ctx context.Context, applianceID string) (models.Measurements, error) {
	var out models.Measurements
	path := "/appliances/" + url.PathEscape(applianceID) + "/measurements"
	if err := c.getJSON(ctx, path, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) History(ctx context.Context, applianceID string, days int) (*models.HistoryResponse, error) {
	params := url.Values{}
	params.Set("from", time.Now().AddDate(0, 0, -days).Format(time.RFC3339))
	params.Set("include_imports", "true")
	var out models.HistoryResponse
	path := "/appliances/" + url.PathEscape(applianceID) + "/history"
	if err := c.getJSON(ctx, path, &out, params); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any, params url.Values) error {
	u := c.baseURL + path
	if params != nil {
		if qs := params.Encode(); qs != "" {
			u += "?" + qs
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
