package httpregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// Client queries a remote customs registry over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type lookupReq struct {
	SADNos []string `json:"sad_nos"`
}

type lookupResp struct {
	Status  string   `json:"status"`
	Present []string `json:"present"`
}

func (c *Client) ExistingSADs(ctx context.Context, sadNos []string) ([]string, error) {
	if len(sadNos) == 0 {
		return []string{}, nil
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/sad/lookup"

	body, err := json.Marshal(lookupReq{SADNos: sadNos})
	if err != nil {
		return nil, errors.Wrap(err, "marshal lookup")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("sad registry http %d", resp.StatusCode)
	}

	var r lookupResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if r.Status != "ok" {
		return nil, fmt.Errorf("sad registry status=%s", r.Status)
	}

	// the registry may echo numbers we never asked for; keep only ours
	asked := make(map[string]struct{}, len(sadNos))
	for _, no := range sadNos {
		asked[no] = struct{}{}
	}
	out := make([]string, 0, len(r.Present))
	for _, no := range r.Present {
		if _, ok := asked[no]; ok {
			out = append(out, no)
		}
	}
	return out, nil
}
