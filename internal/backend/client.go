// Package backend talks to the modeling server's local HTTP API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tOgg1/workbench/internal/models"
)

// DefaultRequestTimeout bounds a single request.
const DefaultRequestTimeout = 5 * time.Second

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client is an HTTP client for one backend instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for a backend listening on 127.0.0.1:port.
func NewClient(port int, timeout time.Duration) *Client {
	return NewClientURL(fmt.Sprintf("http://127.0.0.1:%d", port), timeout)
}

// NewClientURL returns a client for an explicit base URL.
func NewClientURL(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ready checks the readiness route once.
func (c *Client) Ready(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/ready", nil)
	return err
}

// Shutdown asks the backend to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/shutdown", nil)
	return err
}

// Models lists the models the backend can run, keyed by display name.
func (c *Client) Models(ctx context.Context) (map[string]models.ModelInfo, error) {
	var out map[string]models.ModelInfo
	if err := c.doJSON(ctx, http.MethodGet, "/models", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Spec fetches the argument specification of a model.
func (c *Client) Spec(ctx context.Context, model string) (*models.ModelSpec, error) {
	var spec models.ModelSpec
	if err := c.doJSON(ctx, http.MethodPost, "/getspec", map[string]string{"model": model}, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate runs the model's validation over args. limitTo restricts
// validation to one key when non-empty.
func (c *Client) Validate(ctx context.Context, module string, args map[string]any, limitTo string) ([]models.ValidationWarning, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	payload := map[string]any{
		"model_module": module,
		"args":         string(encoded),
	}
	if limitTo != "" {
		payload["limit_to"] = limitTo
	}

	var warnings []models.ValidationWarning
	if err := c.doJSON(ctx, http.MethodPost, "/validate", payload, &warnings); err != nil {
		return nil, err
	}
	return warnings, nil
}

// DatastackInfo describes a datastack file as parsed by the backend.
type DatastackInfo struct {
	Type          string         `json:"type"`
	Args          map[string]any `json:"args"`
	ModuleName    string         `json:"module_name"`
	InvestVersion string         `json:"invest_version"`
}

// DatastackInfo asks the backend to parse a datastack file (parameter set,
// archive or log).
func (c *Client) DatastackInfo(ctx context.Context, path string) (*DatastackInfo, error) {
	var info DatastackInfo
	if err := c.doJSON(ctx, http.MethodPost, "/post_datastack_file", map[string]string{"datastack_path": path}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// WriteParameterSet asks the backend to write a parameter set file.
func (c *Client) WriteParameterSet(ctx context.Context, path, module string, args map[string]any, relativePaths bool) error {
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/write_parameter_set_file", map[string]any{
		"parameterSetPath": path,
		"moduleName":       module,
		"args":             string(encoded),
		"relativePaths":    relativePaths,
	})
	return err
}

// SaveToPython asks the backend to write a Python script that runs the model.
func (c *Client) SaveToPython(ctx context.Context, path, modelName, pyName string, args map[string]any) error {
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/save_to_python", map[string]any{
		"filepath":  path,
		"modelname": modelName,
		"pyname":    pyName,
		"args":      string(encoded),
	})
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	data, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encode request: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(data)),
		}
	}
	return data, nil
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}
