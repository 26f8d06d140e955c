// Package authadmin is a UserDirectory over the auth admin HTTP API.
package authadmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rowjay/supa-backup/internal/platform"
)

const DefaultPageSize = 50

type Client struct {
	baseURL    string
	serviceKey string
	pageSize   int
	http       *http.Client
}

func New(projectURL, serviceKey string, pageSize int, timeout time.Duration) (*Client, error) {
	if projectURL == "" || serviceKey == "" {
		return nil, fmt.Errorf("project url and service key are required: %w", platform.ErrNotConfigured)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(projectURL, "/"),
		serviceKey: serviceKey,
		pageSize:   pageSize,
		http:       &http.Client{Timeout: timeout},
	}, nil
}

type listResponse struct {
	Users []json.RawMessage `json:"users"`
}

// ListUsers walks every page until a short one. Each user keeps the raw
// object the API returned.
func (c *Client) ListUsers(ctx context.Context) ([]platform.User, error) {
	var users []platform.User
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(c.pageSize))
		var resp listResponse
		if err := c.do(ctx, http.MethodGet, "/auth/v1/admin/users?"+q.Encode(), nil, &resp); err != nil {
			return nil, fmt.Errorf("list users page %d: %w", page, err)
		}
		for _, raw := range resp.Users {
			u, err := platform.DecodeUser(raw)
			if err != nil {
				return nil, err
			}
			users = append(users, u)
		}
		if len(resp.Users) < c.pageSize {
			return users, nil
		}
	}
}

func (c *Client) CreateUser(ctx context.Context, user platform.NewUser) error {
	body, err := json.Marshal(user)
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/admin/users", body, nil); err != nil {
		return fmt.Errorf("create user %s: %w", label(user), err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx response from the admin API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("auth admin returned %d", e.Code)
	}
	return fmt.Sprintf("auth admin returned %d: %s", e.Code, e.Body)
}

func label(u platform.NewUser) string {
	if u.Email != "" {
		return u.Email
	}
	return u.Phone
}
