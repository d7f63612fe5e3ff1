package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/HatiCode/snaprotate/pkg/httpx"
)

// New creates a store based on kind and a generic configuration map.
// This is the central extension point for adding new backends.
//
// Supported kinds:
//   - "lightsail": AWS Lightsail (config: region)
//   - "http": generic REST API (config: url, token, headers, instancesPath,
//     snapshotsPath, nameField, instanceField, createdAtField, nextTokenPath,
//     timestampFormat, timeout)
//   - "memory": in-process store (config: pageSize)
//
// Returns an error wrapping ErrUnknownKind if kind is unknown, or an error if
// required fields are missing.
func New(ctx context.Context, kind string, config map[string]string) (Store, error) {
	switch kind {
	case "lightsail":
		return NewLightsailStoreFromEnv(ctx, config["region"])
	case "http":
		return newHTTP(config)
	case "memory":
		return newMemory(config)
	default:
		return nil, fmt.Errorf("%w: %s (must be lightsail, http, or memory)", ErrUnknownKind, kind)
	}
}

// newHTTP creates a generic HTTP store from generic config.
func newHTTP(config map[string]string) (Store, error) {
	var headers map[string]string
	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}

	timeout := 30 * time.Second
	if v := config["timeout"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
		timeout = d
	}

	s := &HTTPStore{
		URL:             config["url"],
		Token:           config["token"],
		Headers:         headers,
		InstancesPath:   config["instancesPath"],
		SnapshotsPath:   config["snapshotsPath"],
		NameField:       config["nameField"],
		InstanceField:   config["instanceField"],
		CreatedAtField:  config["createdAtField"],
		NextTokenPath:   config["nextTokenPath"],
		TimestampFormat: config["timestampFormat"],
		HTTPClient:      httpx.NewClient(timeout),
	}

	if err := s.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http store: %w", err)
	}
	return s, nil
}

// newMemory creates an empty memory store from generic config.
func newMemory(config map[string]string) (Store, error) {
	pageSize := 0
	if v := config["pageSize"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid pageSize: %w", err)
		}
		pageSize = n
	}
	return NewMemoryStore(pageSize), nil
}
