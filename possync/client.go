package possync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type Client struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient builds a POS API client allowing perMinute list calls.
// perMinute <= 0 disables rate limiting.
func NewClient(baseURL string, apiKey string, perMinute int) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("pos api base url is empty")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("pos api key is empty")
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: "X-API-Key",
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(limit, 1),
	}, nil
}

// NewClientFromEnv reads POS_API_BASE_URL, POS_API_KEY, POS_API_KEY_HEADER
// and POS_RATE_LIMIT_PER_MIN (default 10).
func NewClientFromEnv() (*Client, error) {
	perMinute := 10
	if v := strings.TrimSpace(os.Getenv("POS_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			perMinute = n
		}
	}
	c, err := NewClient(os.Getenv("POS_API_BASE_URL"), os.Getenv("POS_API_KEY"), perMinute)
	if err != nil {
		return nil, err
	}
	if hdr := strings.TrimSpace(os.Getenv("POS_API_KEY_HEADER")); hdr != "" {
		c.apiKeyHdr = hdr
	}
	return c, nil
}

type listResponse struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

func (r listResponse) records() []json.RawMessage {
	if len(r.Data) > 0 {
		return r.Data
	}
	return r.Items
}

func (r listResponse) done() bool {
	return r.NextCursor == "" || (r.HasMore != nil && !*r.HasMore)
}

func (c *Client) getList(ctx context.Context, path string, params url.Values) (listResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return listResponse{}, err
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return listResponse{}, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return listResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return listResponse{}, fmt.Errorf("pos api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return listResponse{}, err
	}
	return parsed, nil
}
