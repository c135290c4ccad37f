/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package updates

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kentakayama/updates-over-http/internal/infra/fetch"
	"github.com/kentakayama/updates-over-http/internal/infra/sqlite"
	"github.com/kentakayama/updates-over-http/internal/manifest"
)

const (
	testUpdateID      = "0754dad0-d200-d634-113c-ef1f26106028"
	testOtherUpdateID = "4f8d7d2a-3c1e-4a3b-9b62-2a0f6f0f7c11"
	testEmbeddedID    = "c1b1b1b1-0000-4000-8000-000000000001"
	testAssetBase     = "https://u.example.com/assets/"
)

var (
	testBundle = []byte("console.log('hello')")
	testIcon   = []byte("\x89PNG icon")
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses []*fetch.Response
	assets    map[string][]byte
	requests  []http.Header
	downloads []string
}

func newFakeFetcher(responses ...*fetch.Response) *fakeFetcher {
	return &fakeFetcher{
		responses: responses,
		assets: map[string][]byte{
			testAssetBase + "bundle": testBundle,
			testAssetBase + "icon":   testIcon,
		},
	}
}

// FetchManifest serves the queued responses in order and repeats the last.
func (f *fakeFetcher) FetchManifest(_ context.Context, _ *url.URL, headers http.Header) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, headers.Clone())
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("%w: no response queued", fetch.ErrUnexpectedStatus)
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *fakeFetcher) DownloadAsset(_ context.Context, u *url.URL, _ map[string]string, expectedHash string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, u.String())
	data, ok := f.assets[u.String()]
	if !ok {
		return nil, fmt.Errorf("%w: 404 Not Found", fetch.ErrUnexpectedStatus)
	}
	if expectedHash != "" && manifest.AssetHash(data) != expectedHash {
		return nil, fetch.ErrHashMismatch
	}
	return data, nil
}

func (f *fakeFetcher) lastRequest() http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.InitDB(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.CloseDB(db) })
	return db
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newFormatManifest renders a protocol manifest with one launch asset and
// one image asset served from testAssetBase.
func newFormatManifest(id, createdAt string, extra string) []byte {
	if extra == "" {
		extra = "{}"
	}
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"createdAt": %q,
		"runtimeVersion": "1.0",
		"launchAsset": {"key": "bundle", "contentType": "application/javascript", "url": %q, "hash": %q, "fileExtension": ".bundle"},
		"assets": [{"key": "icon", "contentType": "image/png", "url": %q, "hash": %q, "fileExtension": ".png"}],
		"metadata": {"branch": "main"},
		"extra": %s
	}`, id, createdAt,
		testAssetBase+"bundle", manifest.AssetHash(testBundle),
		testAssetBase+"icon", manifest.AssetHash(testIcon),
		extra))
}

func embeddedManifest() []byte {
	return []byte(fmt.Sprintf(`{"id": %q, "commitTime": 1609459200000, "assets": []}`, testEmbeddedID))
}

type testPart struct {
	name      string
	body      []byte
	signature string
}

// multipartResponse builds a protocol v1 multipart/mixed response.
func multipartResponse(t *testing.T, header http.Header, parts ...testPart) *fetch.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, p.name))
		h.Set("Content-Type", "application/json")
		if p.signature != "" {
			h.Set("expo-signature", p.signature)
		}
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(p.body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "multipart/mixed; boundary="+w.Boundary())
	header.Set("expo-protocol-version", "1")
	return &fetch.Response{StatusCode: http.StatusOK, Header: header, Body: buf.Bytes()}
}

func noContentResponse() *fetch.Response {
	h := http.Header{}
	h.Set("expo-protocol-version", "1")
	return &fetch.Response{StatusCode: http.StatusNoContent, Header: h}
}
