package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/snaprotate/pkg/snapshot"
)

// HTTPStore is a generic REST backend for providers without a Go SDK.
// Responses are decoded with gjson paths, so it adapts to most JSON shapes
// without code changes.
//
// Endpoints, relative to URL:
//
//	GET    /instances?pageToken=<t>
//	GET    /snapshots?pageToken=<t>
//	POST   /snapshots            {"instanceName": "...", "snapshotName": "..."}
//	DELETE /snapshots/<name>
//
// Example configuration for a provider returning
// {"items":[{"id":"...","source":"...","created":1710460800}],"next":"..."}:
//
//	store := &HTTPStore{
//	    URL:             "https://api.example.com/v1",
//	    Token:           os.Getenv("API_TOKEN"),
//	    SnapshotsPath:   "items",
//	    NameField:       "id",
//	    InstanceField:   "source",
//	    CreatedAtField:  "created",
//	    NextTokenPath:   "next",
//	    TimestampFormat: "unix",
//	}
type HTTPStore struct {
	// URL is the API base URL (required).
	URL string

	// Token, when set, is sent as "Authorization: Bearer <Token>".
	Token string

	// Headers are extra HTTP headers included in every request.
	Headers map[string]string

	// InstancesPath selects instance names in a /instances response.
	// Defaults to "instances.#.name".
	InstancesPath string

	// SnapshotsPath selects the snapshot array in a /snapshots response.
	// Defaults to "snapshots".
	SnapshotsPath string

	// NameField, InstanceField and CreatedAtField are gjson paths evaluated
	// against each snapshot object. Defaults: "name", "fromInstanceName",
	// "createdAt".
	NameField      string
	InstanceField  string
	CreatedAtField string

	// NextTokenPath selects the continuation token in both list responses.
	// Defaults to "nextPageToken".
	NextTokenPath string

	// TimestampFormat specifies how to parse CreatedAtField:
	//   "rfc3339"    - RFC3339 strings (default)
	//   "unix"       - Unix seconds (float or int)
	//   "unix_milli" - Unix milliseconds (float or int)
	TimestampFormat string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (h *HTTPStore) Name() string { return "http" }

// ValidateConfig checks if the store configuration is valid.
func (h *HTTPStore) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if _, err := url.Parse(h.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	validFormats := map[string]bool{
		"":           true,
		"rfc3339":    true,
		"unix":       true,
		"unix_milli": true,
	}
	if !validFormats[h.TimestampFormat] {
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, unix, or unix_milli)", h.TimestampFormat)
	}

	return nil
}

// ListInstancesPage implements Store.
func (h *HTTPStore) ListInstancesPage(ctx context.Context, pageToken string) (InstancePage, error) {
	body, err := h.do(ctx, http.MethodGet, h.endpoint("instances", pageToken), nil)
	if err != nil {
		return InstancePage{}, fmt.Errorf("http list instances: %w", err)
	}

	path := orDefault(h.InstancesPath, "instances.#.name")
	names := gjson.GetBytes(body, path)
	if !names.Exists() {
		return InstancePage{}, Permanent(fmt.Errorf("instances path %q not found in response", path))
	}

	var out []string
	for _, n := range names.Array() {
		if s := n.String(); s != "" {
			out = append(out, s)
		}
	}

	return InstancePage{
		Instances:     out,
		NextPageToken: h.nextToken(body),
	}, nil
}

// ListSnapshotsPage implements Store.
func (h *HTTPStore) ListSnapshotsPage(ctx context.Context, pageToken string) (SnapshotPage, error) {
	body, err := h.do(ctx, http.MethodGet, h.endpoint("snapshots", pageToken), nil)
	if err != nil {
		return SnapshotPage{}, fmt.Errorf("http list snapshots: %w", err)
	}

	path := orDefault(h.SnapshotsPath, "snapshots")
	items := gjson.GetBytes(body, path)
	if !items.Exists() {
		return SnapshotPage{}, Permanent(fmt.Errorf("snapshots path %q not found in response", path))
	}

	nameField := orDefault(h.NameField, "name")
	instanceField := orDefault(h.InstanceField, "fromInstanceName")
	createdField := orDefault(h.CreatedAtField, "createdAt")

	arr := items.Array()
	snaps := make([]snapshot.Snapshot, 0, len(arr))
	for i, item := range arr {
		ts, err := h.parseTimestamp(item.Get(createdField))
		if err != nil {
			return SnapshotPage{}, Permanent(fmt.Errorf("parse %s of snapshot[%d]: %w", createdField, i, err))
		}
		snaps = append(snaps, snapshot.Snapshot{
			Name:      item.Get(nameField).String(),
			Instance:  item.Get(instanceField).String(),
			CreatedAt: ts,
		})
	}

	return SnapshotPage{
		Snapshots:     snaps,
		NextPageToken: h.nextToken(body),
	}, nil
}

// CreateSnapshot implements Store.
func (h *HTTPStore) CreateSnapshot(ctx context.Context, instanceName, snapshotName string) error {
	payload, err := json.Marshal(map[string]string{
		"instanceName": instanceName,
		"snapshotName": snapshotName,
	})
	if err != nil {
		return fmt.Errorf("encode create request: %w", err)
	}

	if _, err := h.do(ctx, http.MethodPost, h.endpoint("snapshots", ""), payload); err != nil {
		return fmt.Errorf("http create snapshot %s: %w", snapshotName, err)
	}
	return nil
}

// DeleteSnapshot implements Store.
func (h *HTTPStore) DeleteSnapshot(ctx context.Context, snapshotName string) error {
	endpoint := strings.TrimRight(h.URL, "/") + "/snapshots/" + url.PathEscape(snapshotName)
	if _, err := h.do(ctx, http.MethodDelete, endpoint, nil); err != nil {
		return fmt.Errorf("http delete snapshot %s: %w", snapshotName, err)
	}
	return nil
}

func (h *HTTPStore) endpoint(resource, pageToken string) string {
	u := strings.TrimRight(h.URL, "/") + "/" + resource
	if pageToken != "" {
		u += "?pageToken=" + url.QueryEscape(pageToken)
	}
	return u
}

func (h *HTTPStore) nextToken(body []byte) string {
	return gjson.GetBytes(body, orDefault(h.NextTokenPath, "nextPageToken")).String()
}

// do issues the request and returns the response body. 4xx responses other
// than 429 are permanent failures, and 409 reports ErrAlreadyExists.
func (h *HTTPStore) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	if h.URL == "" {
		return nil, Permanent(errors.New("http store: URL is required"))
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		statusErr := fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusConflict {
			statusErr = fmt.Errorf("%w: %w", ErrAlreadyExists, statusErr)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, Permanent(statusErr)
		}
		return nil, statusErr
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, nil
}

// parseTimestamp parses a timestamp according to the configured format
func (h *HTTPStore) parseTimestamp(value gjson.Result) (time.Time, error) {
	if !value.Exists() {
		return time.Time{}, errors.New("missing timestamp")
	}

	switch orDefault(h.TimestampFormat, "rfc3339") {
	case "rfc3339":
		return time.Parse(time.RFC3339, value.String())

	case "unix":
		sec := value.Float()
		return time.Unix(int64(sec), 0).UTC(), nil

	case "unix_milli":
		ms := value.Float()
		return time.UnixMilli(int64(ms)).UTC(), nil

	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", h.TimestampFormat)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
