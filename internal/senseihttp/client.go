// Package senseihttp talks to the controller board over its REST
// surface instead of the broker. It covers the same operations as the
// MQTT commands with slightly different shapes: dosing takes a fixed
// amount, and controllers are started and stopped by name.
package senseihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cultimatics/growstudio/internal/commands"
	"github.com/cultimatics/growstudio/internal/httpkit"
	"github.com/cultimatics/growstudio/internal/sensei"
)

// Controller names accepted by /startController and /stopController.
const (
	ControllerPH       = "ph"
	ControllerNutrient = "nutrient"
)

// StatusError is a non-2xx reply from the board.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: board returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client is a REST client for one board.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the board at baseURL, for example
// "http://192.168.1.29:80".
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// GetStatus fetches the same snapshot the board broadcasts on the status
// topic.
func (c *Client) GetStatus(ctx context.Context) (sensei.Status, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/status", nil, &raw); err != nil {
		return sensei.Status{}, err
	}
	return sensei.DecodeStatus(raw)
}

type doseRequest struct {
	DoserID  int     `json:"doserID"`
	FlowRate float64 `json:"flowRate"`
	Amount   float64 `json:"amount"`
}

// Dose pumps amount mL through doser id at flowRate mL/min.
func (c *Client) Dose(ctx context.Context, id int, flowRate, amount float64) error {
	return c.do(ctx, http.MethodPost, "/dose", doseRequest{DoserID: id, FlowRate: flowRate, Amount: amount}, nil)
}

type calibrateRequest struct {
	Target float64 `json:"target"`
}

// CalibratePH calibrates the pH probe against a buffer of value target.
func (c *Client) CalibratePH(ctx context.Context, target float64) error {
	return c.do(ctx, http.MethodPost, "/calibratePh", calibrateRequest{Target: target}, nil)
}

// CalibrateEC calibrates the EC probe against a solution of value target.
func (c *Client) CalibrateEC(ctx context.Context, target float64) error {
	return c.do(ctx, http.MethodPost, "/calibrateEc", calibrateRequest{Target: target}, nil)
}

type controllerRequest struct {
	Name   string `json:"name"`
	Config any    `json:"config,omitempty"`
}

// StartController starts the named controller with config.
func (c *Client) StartController(ctx context.Context, name string, config any) error {
	return c.do(ctx, http.MethodPost, "/startController", controllerRequest{Name: name, Config: config}, nil)
}

// StopController stops the named controller.
func (c *Client) StopController(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/stopController", controllerRequest{Name: name}, nil)
}

// StartPHController is StartController for the pH loop.
func (c *Client) StartPHController(ctx context.Context, cfg commands.PHConfig) error {
	return c.StartController(ctx, ControllerPH, cfg)
}

// StartNutrientController is StartController for the EC loop. As over
// MQTT, only positive schedule entries are sent.
func (c *Client) StartNutrientController(ctx context.Context, cfg commands.NutrientConfig) error {
	cfg.Schedule = cfg.Schedule.Positive()
	return c.StartController(ctx, ControllerNutrient, cfg)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   httpkit.ReadErrorBody(resp.Body, 512),
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}
