// Package client talks to the notification endpoints of the API and keeps a connected
// user's toasts and badge consistent with the store.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/capstone/core/notification"
)

const notificationsPath = "/v1/notifications"

// APIError is a non-2xx answer of the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 answer.
func IsNotFound(err error) bool {
	apiErr, ok := errors.Cause(err).(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// Client calls the notification endpoints on behalf of one authenticated user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return readAPIError(res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return errors.Wrap(json.NewDecoder(res.Body).Decode(out), "decoding response")
}

func readAPIError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	apiErr := &APIError{StatusCode: res.StatusCode, Message: strings.TrimSpace(string(body))}
	var msg struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &msg); err == nil && msg.Error != "" {
		apiErr.Message = msg.Error
	}
	return apiErr
}

// List returns the caller's visible records, optionally narrowed to `kinds`.
func (c *Client) List(ctx context.Context, kinds ...notification.Kind) (notification.Listing, error) {
	query := url.Values{}
	for _, k := range kinds {
		query.Add("kind", string(k))
	}
	req, err := c.newRequest(ctx, http.MethodGet, notificationsPath, query)
	if err != nil {
		return notification.Listing{}, err
	}
	var lst notification.Listing
	if err = c.do(req, &lst); err != nil {
		return notification.Listing{}, err
	}
	return lst, nil
}

func (c *Client) MarkRead(ctx context.Context, id string) (notification.View, error) {
	req, err := c.newRequest(ctx, http.MethodPost, notificationsPath+"/"+url.PathEscape(id)+"/read", nil)
	if err != nil {
		return notification.View{}, err
	}
	var v notification.View
	if err = c.do(req, &v); err != nil {
		return notification.View{}, err
	}
	return v, nil
}

func (c *Client) MarkAllRead(ctx context.Context) (notification.Listing, error) {
	req, err := c.newRequest(ctx, http.MethodPost, notificationsPath+"/read-all", nil)
	if err != nil {
		return notification.Listing{}, err
	}
	var lst notification.Listing
	if err = c.do(req, &lst); err != nil {
		return notification.Listing{}, err
	}
	return lst, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, notificationsPath+"/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) DeleteAll(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodDelete, notificationsPath, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}
