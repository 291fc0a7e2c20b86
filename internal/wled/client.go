package wled

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by ReadJSONFile when the file does not exist on the controller.
var ErrNotFound = errors.New("file not found")

// Client talks to the WLED JSON API of one controller.
type Client struct {
	address    string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the controller at address (host or host:port,
// optionally with an http:// scheme).
func NewClient(address string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	base := strings.TrimRight(address, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		address: address,
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Address returns the controller address the client was created with.
func (c *Client) Address() string {
	return c.address
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.httpClient.Do(req)
}

// FullState fetches state and info in one round trip (GET /json).
func (c *Client) FullState(ctx context.Context) (full *FullState, err error) {
	resp, err := c.request(ctx, http.MethodGet, "/json", nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get full state: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var out FullState
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode full state: %w", err)
	}
	return &out, nil
}

// SendPatch posts a partial state to /json/state.
func (c *Client) SendPatch(ctx context.Context, patch StatePatch) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}

	resp, err := c.request(ctx, http.MethodPost, "/json/state", bytes.NewReader(data), "application/json")
	if err != nil {
		return fmt.Errorf("failed to send patch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to send patch: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// Without "v":true the firmware answers {"success":true}; anything else is
	// the full state, which is also an acknowledgement.
	var ack struct {
		Success *bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err == nil && ack.Success != nil && !*ack.Success {
		return errors.New("controller rejected patch")
	}

	log.Debug().Str("address", c.address).Int("bytes", len(data)).Msg("Patch sent")
	return nil
}

// ReadJSONFile downloads a file from the controller's filesystem and decodes it into v.
// A missing file yields ErrNotFound.
func (c *Client) ReadJSONFile(ctx context.Context, path string, v any) error {
	resp, err := c.request(ctx, http.MethodGet, "/"+strings.TrimLeft(path, "/"), nil, "")
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to read %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// WriteJSONFile uploads v as a JSON file through the firmware's /upload endpoint.
func (c *Client) WriteJSONFile(ctx context.Context, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("data", "/"+strings.TrimLeft(path, "/"))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := c.request(ctx, http.MethodPost, "/upload", &body, mw.FormDataContentType())
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to write %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	log.Debug().Str("address", c.address).Str("path", path).Int("bytes", len(data)).Msg("File uploaded")
	return nil
}
