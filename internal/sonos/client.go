// Package sonos is the HTTP client for the Sonos control backend.
//
// The backend exposes a small JSON-over-HTTP API: a speaker listing, a
// device→speaker binding call, several play routes, transport controls and
// group management. Every call is a single attempt — retries and timeouts
// are the transport's business, not this client's.
package sonos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient sets the underlying *http.Client. Defaults to a plain
// http.Client when not provided.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSecret sets the bearer secret sent as the Authorization header. When
// empty, the header is omitted entirely — it is never sent blank.
func WithSecret(secret string) Option {
	return func(c *Client) {
		c.secret = secret
	}
}

// Client talks to one backend endpoint on behalf of one identity.
// It is read-only after construction and safe for concurrent use.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// New creates a Client for the given base URL. A trailing slash on the URL
// is stripped so paths can be appended verbatim.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("sonos: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the normalised endpoint this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StatusError is returned for non-2xx backend responses. Body holds the raw
// response body so callers can surface it to the user.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sonos: %s: unexpected status %d: %s", e.Path, e.Status, e.Body)
}

// Speakers fetches the live speaker set from GET /speakers. The backend may
// report either a name→address map or a bare list of names; both shapes are
// accepted. List entries get an empty address.
func (c *Client) Speakers(ctx context.Context) (map[string]string, error) {
	raw, err := c.get(ctx, "/speakers")
	if err != nil {
		return nil, err
	}

	var byName map[string]string
	if err := json.Unmarshal(raw, &byName); err == nil {
		return byName, nil
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		set := make(map[string]string, len(names))
		for _, n := range names {
			set[n] = ""
		}
		return set, nil
	}

	return nil, fmt.Errorf("sonos: /speakers: unexpected response shape: %s", raw)
}

// SetSpeaker binds the device to a speaker via POST /set_speaker. The
// binding is not assumed to persist across calls, so callers re-bind before
// every play.
func (c *Client) SetSpeaker(ctx context.Context, deviceID, speaker string) error {
	_, err := c.post(ctx, "/set_speaker", map[string]string{
		"device_id": deviceID,
		"speaker":   speaker,
	})
	return err
}

// Play posts body to the given play route and returns the raw response.
// Responses are surfaced verbatim; non-JSON bodies are valid.
func (c *Client) Play(ctx context.Context, path string, body map[string]string) (json.RawMessage, error) {
	return c.post(ctx, path, body)
}

// PlayPause toggles playback via POST /play_pause.
func (c *Client) PlayPause(ctx context.Context, deviceID string) (json.RawMessage, error) {
	return c.post(ctx, "/play_pause", map[string]string{"device_id": deviceID})
}

// Next skips to the next track.
func (c *Client) Next(ctx context.Context, deviceID string) (json.RawMessage, error) {
	return c.post(ctx, "/next", map[string]string{"device_id": deviceID})
}

// Previous skips to the previous track.
func (c *Client) Previous(ctx context.Context, deviceID string) (json.RawMessage, error) {
	return c.post(ctx, "/previous", map[string]string{"device_id": deviceID})
}

// GroupResult is the backend's report on a group operation. Fields are
// surfaced to the user verbatim, not re-validated.
type GroupResult struct {
	Added      []string `json:"added"`
	FinalGroup []string `json:"final_group"`
	Errors     []string `json:"errors"`
}

// Group joins speakers into one zone via POST /group. The first speaker is
// the coordinator; exact=true asks the backend to make the group exactly
// this membership.
func (c *Client) Group(ctx context.Context, speakers []string, coordinator string) (*GroupResult, error) {
	raw, err := c.post(ctx, "/group", map[string]any{
		"speakers":    speakers,
		"coordinator": coordinator,
		"exact":       true,
	})
	if err != nil {
		return nil, err
	}

	var res GroupResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("sonos: /group: decode response: %w", err)
	}
	return &res, nil
}

// UngroupResult is the structured shape of an ungroup response. The backend
// may instead return a plain scalar; Raw always holds the original body.
type UngroupResult struct {
	Ungrouped   []string
	AlreadySolo []string
	Raw         json.RawMessage
}

// Ungroup dissolves all groups via POST /ungroup. Both response shapes are
// accepted: a {ungrouped, already_solo} object or a bare value.
func (c *Client) Ungroup(ctx context.Context) (*UngroupResult, error) {
	raw, err := c.post(ctx, "/ungroup", nil)
	if err != nil {
		return nil, err
	}

	res := &UngroupResult{Raw: raw}
	var obj struct {
		Ungrouped   []string `json:"ungrouped"`
		AlreadySolo []string `json:"already_solo"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		res.Ungrouped = obj.Ungrouped
		res.AlreadySolo = obj.AlreadySolo
	}
	return res, nil
}

// ---- transport helpers ----

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("sonos: %s: %w", path, err)
	}
	return c.do(req, path)
}

// post sends a JSON body to path. A nil body sends no body at all — some
// backends treat an explicit JSON null as a real payload.
func (c *Client) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("sonos: %s: marshal body: %w", path, err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("sonos: %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, path)
}

func (c *Client) do(req *http.Request, path string) (json.RawMessage, error) {
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sonos: %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sonos: %s: read response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
