// Package archive writes redacted ride receipts to a content-addressed blob
// store reachable over the IPFS HTTP API. Archival is strictly best-effort:
// every failure here is logged and counted, never surfaced to the protocol
// state machines.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/ridemesh/go-ridemesh/metrics"
)

// DefaultConfig points at a local IPFS daemon.
func DefaultConfig() Config {
	return Config{
		URI:     "http://127.0.0.1:5001",
		Timeout: 10 * time.Second,
		Retries: 2,
	}
}

// Config for the blob store client.
type Config struct {
	URI     string        `mapstructure:"ipfs-api"`
	Timeout time.Duration `mapstructure:"ipfs-timeout"`
	Retries int           `mapstructure:"ipfs-retries"`
}

// DriverInfo is the driver section of a receipt.
type DriverInfo struct {
	DriverID     string `json:"driverId"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// RouteInfo is the rider section of a receipt. Rider identity is redacted;
// only the route survives.
type RouteInfo struct {
	PickupLocation string `json:"pickupLocation"`
	Destination    string `json:"destination"`
}

// VehicleInfo is the vehicle section of a receipt.
type VehicleInfo struct {
	Type          string `json:"type"`
	Seats         int    `json:"seats"`
	SelectedSeats int    `json:"selectedSeats"`
}

// Receipt is the archived summary of a confirmed ride.
type Receipt struct {
	Driver    DriverInfo  `json:"driver"`
	Rider     RouteInfo   `json:"rider"`
	Vehicle   VehicleInfo `json:"vehicle"`
	Timestamp string      `json:"timestamp"`
}

// Client talks to the blob store.
type Client struct {
	logger *zap.Logger
	base   string
	client *retryablehttp.Client
}

// New creates a Client for cfg.URI.
func New(logger *zap.Logger, cfg Config) *Client {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Retries
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = &retryableLogger{logger: logger}
	return &Client{
		logger: logger,
		base:   cfg.URI,
		client: client,
	}
}

// Add uploads data and returns its content id.
func (c *Client) Add(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "receipt.json")
	if err != nil {
		return "", fmt.Errorf("build add request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build add request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build add request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v0/add", body.Bytes())
	if err != nil {
		return "", fmt.Errorf("build add request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("add: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("add: unexpected status %s", resp.Status)
	}
	var added struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		return "", fmt.Errorf("add: decode response: %w", err)
	}
	if added.Hash == "" {
		return "", fmt.Errorf("add: response carries no content id")
	}
	return added.Hash, nil
}

// Pin pins cid so it survives garbage collection.
func (c *Client) Pin(ctx context.Context, cid string) error {
	resp, err := c.post(ctx, "/api/v0/pin/add", cid)
	if err != nil {
		return fmt.Errorf("pin %s: %w", cid, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pin %s: unexpected status %s", cid, resp.Status)
	}
	return nil
}

// Cat retrieves the content stored under cid.
func (c *Client) Cat(ctx context.Context, cid string) ([]byte, error) {
	resp, err := c.post(ctx, "/api/v0/cat", cid)
	if err != nil {
		return nil, fmt.Errorf("cat %s: %w", cid, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cat %s: unexpected status %s", cid, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cat %s: read: %w", cid, err)
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, path, arg string) (*http.Response, error) {
	endpoint := c.base + path + "?arg=" + url.QueryEscape(arg)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

// ArchiveReceipt serializes the receipt, uploads and pins it, then reads it
// back to verify structure. Returns the content id on success.
func (c *Client) ArchiveReceipt(ctx context.Context, receipt Receipt) (string, error) {
	data, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		metrics.ArchivalResults.WithLabelValues("encode_failed").Inc()
		return "", fmt.Errorf("encode receipt: %w", err)
	}
	cid, err := c.Add(ctx, data)
	if err != nil {
		metrics.ArchivalResults.WithLabelValues("add_failed").Inc()
		return "", err
	}
	if err := c.Pin(ctx, cid); err != nil {
		metrics.ArchivalResults.WithLabelValues("pin_failed").Inc()
		return "", err
	}
	stored, err := c.Cat(ctx, cid)
	if err != nil {
		metrics.ArchivalResults.WithLabelValues("verify_failed").Inc()
		return "", err
	}
	var verified Receipt
	if err := json.Unmarshal(stored, &verified); err != nil {
		metrics.ArchivalResults.WithLabelValues("verify_failed").Inc()
		return "", fmt.Errorf("verify %s: %w", cid, err)
	}
	if verified.Driver.DriverID == "" || verified.Rider.PickupLocation == "" || verified.Vehicle.Type == "" {
		metrics.ArchivalResults.WithLabelValues("verify_failed").Inc()
		return "", fmt.Errorf("verify %s: stored receipt is incomplete", cid)
	}
	metrics.ArchivalResults.WithLabelValues("ok").Inc()
	c.logger.Info("archived ride receipt", zap.String("cid", cid))
	return cid, nil
}

// retryableLogger adapts zap to the retryablehttp.LeveledLogger interface.
type retryableLogger struct {
	logger *zap.Logger
}

func fields(keysAndValues []any) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out = append(out, zap.Any(key, keysAndValues[i+1]))
	}
	return out
}

func (r *retryableLogger) Error(msg string, keysAndValues ...any) {
	r.logger.Error(msg, fields(keysAndValues)...)
}

func (r *retryableLogger) Info(msg string, keysAndValues ...any) {
	r.logger.Info(msg, fields(keysAndValues)...)
}

func (r *retryableLogger) Debug(msg string, keysAndValues ...any) {
	r.logger.Debug(msg, fields(keysAndValues)...)
}

func (r *retryableLogger) Warn(msg string, keysAndValues ...any) {
	r.logger.Warn(msg, fields(keysAndValues)...)
}
