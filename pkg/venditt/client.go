// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package venditt is the client for the Venditt device API. Requests are
// signed per-request with HMAC-SHA256 over a canonical string built from
// the timestamp and the hash of the exact bytes sent, so the server can
// verify both origin and integrity without TLS client certificates.
package venditt

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const machineIDPath = "/etc/machine-id"

// Client talks to the Venditt device API.
type Client struct {
	BaseURL  string // e.g. "https://venditt.com/api/v1/user"
	DeviceID string
	Secret   string

	HTTPClient *http.Client

	// Injected for tests; real clock in production.
	Now func() time.Time
}

// NewClient builds a client with the default HTTP timeout.
func NewClient(baseURL, deviceID, secret string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		DeviceID:   deviceID,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		Now:        time.Now,
	}
}

// DeviceCredentials derives the device identity the way the fleet expects:
// the device ID is the hostname, the signing secret is the machine ID.
func DeviceCredentials() (deviceID, secret string, err error) {
	deviceID, err = os.Hostname()
	if err != nil {
		return "", "", fmt.Errorf("resolve hostname: %w", err)
	}
	raw, err := os.ReadFile(machineIDPath)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", machineIDPath, err)
	}
	secret = strings.TrimSpace(string(raw))
	if secret == "" {
		return "", "", fmt.Errorf("empty machine id in %s", machineIDPath)
	}
	return deviceID, secret, nil
}

// Post sends payload as canonical JSON to path under the base URL and
// returns the HTTP status code. The signature covers the exact bytes sent.
func (c *Client) Post(ctx context.Context, path string, payload any) (int, error) {
	body, err := canonicalJSON(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	url := c.BaseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	c.sign(req, body)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// sign attaches the authentication headers. The canonical string is
// "<unix-seconds>.<sha256-hex-of-body>", signed with HMAC-SHA256.
func (c *Client) sign(req *http.Request, body []byte) {
	ts := strconv.FormatInt(c.Now().Unix(), 10)
	bodyHash := sha256.Sum256(body)
	canonical := ts + "." + hex.EncodeToString(bodyHash[:])

	mac := hmac.New(sha256.New, []byte(c.Secret))
	mac.Write([]byte(canonical))
	sig := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-Id", c.DeviceID)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", sig)
}

// canonicalJSON encodes payload with sorted keys and no insignificant
// whitespace, matching what the server canonicalizes before verifying.
// encoding/json already sorts map keys; payloads are built from maps so
// struct field order never leaks into the signature.
func canonicalJSON(payload any) ([]byte, error) {
	return json.Marshal(payload)
}
