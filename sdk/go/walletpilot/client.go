// Package walletpilot is a small Go client for the WalletPilot REST API.
package walletpilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Chat turns wait for the classifier and the wallet, so it is generous.
const DefaultHTTPTimeout = 90 * time.Second

// Client wraps the HTTP interactions with the WalletPilot API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ChatRequest is one user message.
type ChatRequest struct {
	Message string `json:"message"`
	Address string `json:"address,omitempty"`
}

// ChatReply is the outcome of one chat turn. Execution failures are reported
// in Response and ErrorCode rather than as an error.
type ChatReply struct {
	TurnID        string          `json:"turnId"`
	Response      string          `json:"response"`
	Operation     string          `json:"operation"`
	OperationType int             `json:"operationType"`
	TransactionID string          `json:"transactionId,omitempty"`
	Simulation    json.RawMessage `json:"simulation,omitempty"`
	Explanation   string          `json:"explanation,omitempty"`
	ErrorCode     string          `json:"errorCode,omitempty"`
	Model         string          `json:"model,omitempty"`
}

// Turn is one entry of the turn history.
type Turn struct {
	ID            string `json:"id"`
	Address       string `json:"address"`
	Message       string `json:"message"`
	Operation     string `json:"operation"`
	Response      string `json:"response"`
	TransactionID string `json:"transactionId,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	Model         string `json:"model,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("walletpilot api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the API rooted at rawURL.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Chat sends one message and returns the turn outcome.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	var reply ChatReply
	if err := c.post(ctx, "/api/v1/chat", req, &reply); err != nil {
		return ChatReply{}, err
	}
	return reply, nil
}

// ExplainSimulation asks the server to explain a simulation result.
// operationType is the numeric code, 7 or 8.
func (c *Client) ExplainSimulation(ctx context.Context, simulationResult any, operationType int) (string, error) {
	payload := struct {
		SimulationResult any `json:"simulationResult"`
		OperationType    int `json:"operationType"`
	}{simulationResult, operationType}

	var out struct {
		Response string `json:"response"`
	}
	if err := c.post(ctx, "/api/v1/simulate", payload, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// Turns lists the most recent turns. A non-positive limit uses the server default.
func (c *Client) Turns(ctx context.Context, limit int) ([]Turn, error) {
	endpoint := "/api/v1/turns"
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var turns []Turn
	if err := c.get(ctx, endpoint, query, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

// Suggestions returns the example prompts offered by the server.
func (c *Client) Suggestions(ctx context.Context) ([]string, error) {
	var out struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := c.get(ctx, "/api/v1/suggestions", nil, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
