package matchapi

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

	"github.com/example/ride-session/internal/matching"
)

// TokenSource yields the bearer credential for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("matching api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("matching api: status %d: %s", e.StatusCode, e.Message)
}

// Client calls the matching REST endpoints and the status query. It
// implements matching.API.
type Client struct {
	BaseURL string
	Tokens  TokenSource
	HTTP    *http.Client
}

func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

var _ matching.API = (*Client)(nil)

func (c *Client) RequestMatch(ctx context.Context, req matching.MatchRequest) (string, error) {
	var out struct {
		MatchingKey string `json:"matchingKey"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/matching", req, &out); err != nil {
		return "", err
	}
	return out.MatchingKey, nil
}

func (c *Client) CancelMatch(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/matching/"+url.PathEscape(key)+"/cancel", nil, nil)
}

func (c *Client) Status(ctx context.Context, key string) (matching.StatusReport, error) {
	var out struct {
		Status *matching.StatusReport `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/matching/"+url.PathEscape(key)+"/status", nil, &out); err != nil {
		return matching.StatusReport{}, err
	}
	if out.Status == nil {
		return matching.StatusReport{Code: matching.CodeNoRequest, RideRequestID: -1}, nil
	}
	return *out.Status, nil
}

func (c *Client) AgreeToStart(ctx context.Context, rideRequestID int64) error {
	return c.do(ctx, http.MethodPost, ridePath(rideRequestID, "agree"), nil, nil)
}

func (c *Client) CompleteRide(ctx context.Context, rideRequestID int64) error {
	return c.do(ctx, http.MethodPost, ridePath(rideRequestID, "complete"), nil, nil)
}

func (c *Client) LeaveMatch(ctx context.Context, rideRequestID int64) error {
	return c.do(ctx, http.MethodPost, ridePath(rideRequestID, "leave"), nil, nil)
}

// Review is the body of a review submission.
type Review struct {
	RideRequestID int64 `json:"rideRequestId"`
	Rating        int   `json:"rating"`
}

func (c *Client) SubmitReview(ctx context.Context, rideRequestID int64, rating int) error {
	return c.do(ctx, http.MethodPost, "/reviews", Review{RideRequestID: rideRequestID, Rating: rating}, nil)
}

func ridePath(id int64, action string) string {
	return "/api/v1/rides/" + strconv.FormatInt(id, 10) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Tokens != nil {
		token, err := c.Tokens.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

// errorMessage pulls {"error": "..."} or the raw text out of an error body.
func errorMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return strings.TrimSpace(string(b))
}
