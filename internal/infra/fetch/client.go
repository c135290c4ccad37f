/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package fetch performs the HTTP requests of the update client. It makes a
// single attempt per call; retry policy belongs to the caller.
package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/kentakayama/updates-over-http/internal/config"
	"github.com/kentakayama/updates-over-http/internal/manifest"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "updates-over-http/client"

	maxManifestBytes = 4 << 20
	maxAssetBytes    = 256 << 20
	maxErrorBodySize = 1 << 20
)

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrHashMismatch     = errors.New("asset hash mismatch")
	ErrTooLarge         = errors.New("response body too large")
)

type Client struct {
	httpClient *http.Client
	userAgent  string
	logger     *log.Logger
}

func NewClient(cfg config.FetchConfig) (*Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureTLS},
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		userAgent: userAgent,
		logger:    logger,
	}, nil
}

// Response is a fully read manifest response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// FetchManifest GETs manifestURL with headers. 200 and 204 are returned as
// responses; any other status is an error.
func (c *Client) FetchManifest(ctx context.Context, manifestURL *url.URL, headers http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("%w %s: %s", ErrUnexpectedStatus, resp.Status, bytes.TrimSpace(body))
	}

	body, err := readLimited(resp.Body, maxManifestBytes)
	if err != nil {
		return nil, fmt.Errorf("read manifest body: %w", err)
	}
	c.logger.Printf("fetched manifest from %s (%s, %d bytes)", manifestURL, resp.Status, len(body))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// DownloadAsset GETs assetURL with the asset's extra request headers. When
// expectedHash is set, the base64url (unpadded) SHA-256 of the body must
// equal it.
func (c *Client) DownloadAsset(ctx context.Context, assetURL *url.URL, headers map[string]string, expectedHash string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("%w %s: %s", ErrUnexpectedStatus, resp.Status, bytes.TrimSpace(body))
	}

	body, err := readLimited(resp.Body, maxAssetBytes)
	if err != nil {
		return nil, fmt.Errorf("read asset body: %w", err)
	}

	if expectedHash != "" {
		if got := manifest.AssetHash(body); got != expectedHash {
			return nil, fmt.Errorf("%w: %s: expected %s, got %s", ErrHashMismatch, assetURL, expectedHash, got)
		}
	}
	return body, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrTooLarge
	}
	return body, nil
}
