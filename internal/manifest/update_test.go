/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package manifest

import (
	"bytes"
	"log"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protocol(v int) *ResponseHeaderData {
	return &ResponseHeaderData{ProtocolVersion: &v}
}

func TestNewUpdate_Legacy(t *testing.T) {
	body := []byte(`{
		"releaseId": "0eef8214-4833-4089-9dff-b4138a14f196",
		"commitTime": "2020-11-11T00:17:54.797Z",
		"bundleUrl": "https://x/y.js",
		"bundledAssets": ["asset_abcdef.png"]
	}`)

	u, err := NewUpdate(body, nil, nil, ParseOptions{ScopeKey: "@owner/app"})
	require.NoError(t, err)

	assert.Equal(t, FormatLegacy, u.Manifest.Format)
	assert.Equal(t, "0eef8214-4833-4089-9dff-b4138a14f196", u.ID.String())
	assert.Equal(t, time.Date(2020, 11, 11, 0, 17, 54, 797000000, time.UTC), u.CommitTime)
	assert.Equal(t, "@owner/app", u.ScopeKey)
	require.Len(t, u.Assets, 2)

	launch := u.LaunchAsset()
	require.NotNil(t, launch)
	assert.Equal(t, "bundle-0eef8214-4833-4089-9dff-b4138a14f196", launch.Key)
	assert.Equal(t, "js", launch.Type)
	assert.Equal(t, "https://x/y.js", launch.URL.String())
	assert.Equal(t, EmbeddedBundleFilename, launch.EmbeddedAssetFilename)

	img := u.Assets[1]
	assert.False(t, img.IsLaunchAsset)
	assert.Equal(t, "abcdef", img.Key)
	assert.Equal(t, "png", img.Type)
	assert.Equal(t, "asset_abcdef.png", img.EmbeddedAssetFilename)
	assert.Nil(t, img.URL)
}

func TestNewUpdate_LegacyAssetURLs(t *testing.T) {
	body := []byte(`{
		"releaseId": "0eef8214-4833-4089-9dff-b4138a14f196",
		"commitTime": "2020-11-11T00:17:54.797Z",
		"sdkVersion": "49.0.0",
		"bundleUrl": "https://x/y.js",
		"bundledAssets": ["asset_abcdef.png", "asset_nohash"]
	}`)

	tests := []struct {
		name        string
		manifestURL string
		override    string
		want        string
	}{
		{name: "expo domain", manifestURL: "https://exp.host/@owner/app", want: "https://classic-assets.eascdn.net/~assets/abcdef"},
		{name: "expo subdomain", manifestURL: "https://staging.expo.io/@owner/app", want: "https://classic-assets.eascdn.net/~assets/abcdef"},
		{name: "default relative", manifestURL: "https://updates.example.com/app/manifest", want: "https://updates.example.com/app/assets/abcdef"},
		{name: "override", manifestURL: "https://updates.example.com/app/manifest", override: "../cdn/", want: "https://updates.example.com/cdn/abcdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := body
			if tt.override != "" {
				b = bytes.Replace(body, []byte(`"sdkVersion"`), []byte(`"assetUrlOverride": "`+tt.override+`", "sdkVersion"`), 1)
			}
			mu, err := url.Parse(tt.manifestURL)
			require.NoError(t, err)

			u, err := NewUpdate(b, nil, nil, ParseOptions{ManifestURL: mu})
			require.NoError(t, err)
			require.Len(t, u.Assets, 3)
			assert.Equal(t, tt.want, u.Assets[1].URL.String())
			assert.Equal(t, "49.0.0", u.RuntimeVersion)

			assert.Equal(t, "nohash", u.Assets[2].Key)
			assert.Equal(t, "", u.Assets[2].Type)
		})
	}
}

func TestNewUpdate_LegacyDeveloperTool(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{
		"bundleUrl": "http://localhost:8081/index.bundle",
		"developer": {"tool": "expo-cli"},
		"packagerOpts": {"dev": true}
	}`)
	u, err := NewUpdate(body, nil, nil, ParseOptions{Logger: log.New(&buf, "", 0)})
	require.NoError(t, err)
	assert.True(t, u.IsDevelopmentMode)
	assert.NotEqual(t, [16]byte{}, [16]byte(u.ID))
}

func TestNewUpdate_LegacyBadCommitTime(t *testing.T) {
	var buf bytes.Buffer
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	body := []byte(`{"releaseId": "0eef8214-4833-4089-9dff-b4138a14f196", "commitTime": "yesterday", "bundleUrl": "https://x/y.js"}`)

	u, err := NewUpdate(body, nil, nil, ParseOptions{Logger: log.New(&buf, "", 0), now: func() time.Time { return fixed }})
	require.NoError(t, err)
	assert.Equal(t, fixed, u.CommitTime)
	assert.Contains(t, buf.String(), "commitTime")
}

func TestNewUpdate_LegacyMissingFields(t *testing.T) {
	_, err := NewUpdate([]byte(`{"bundleUrl": "https://x/y.js"}`), nil, nil, ParseOptions{})
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = NewUpdate([]byte(`{"releaseId": "not-a-uuid", "bundleUrl": "https://x/y.js"}`), nil, nil, ParseOptions{})
	assert.ErrorIs(t, err, ErrInvalidUpdateID)

	_, err = NewUpdate([]byte(`{"releaseId": "0eef8214-4833-4089-9dff-b4138a14f196"}`), nil, nil, ParseOptions{})
	assert.ErrorIs(t, err, ErrMissingField)
}

const newManifestBody = `{
	"id": "0754dad0-d200-d634-113c-ef1f26106028",
	"createdAt": "2020-11-11T00:17:54.797Z",
	"runtimeVersion": "1.0",
	"launchAsset": {
		"key": "bundle",
		"contentType": "application/javascript",
		"url": "https://u.expo.dev/bundle.js",
		"hash": "DW5MBgKq155wnX8rCP1lnsW6BsTbfKLXxGXRQx1RcOA",
		"fileExtension": ".bundle"
	},
	"assets": [
		{"key": "icon", "contentType": "image/png", "url": "https://u.expo.dev/icon.png", "fileExtension": ".png"}
	],
	"metadata": {"branchName": "main"},
	"extra": {"scopeKey": "@owner/app", "eas": {"projectId": "285dc9ca-a25d-4f60-93be-36dc312266d7"}}
}`

func TestNewUpdate_New(t *testing.T) {
	ext, err := ParseExtensions([]byte(`{"assetRequestHeaders": {"icon": {"authorization": "Bearer t"}}}`))
	require.NoError(t, err)

	headers := protocol(1)
	headers.ManifestFilters = map[string]any{"branchname": "main"}
	headers.ServerDefinedHeaders = map[string]any{"expo-channel-name": "main"}

	u, err := NewUpdate([]byte(newManifestBody), headers, ext, ParseOptions{ScopeKey: "@config/scope"})
	require.NoError(t, err)

	assert.Equal(t, FormatNew, u.Manifest.Format)
	assert.Equal(t, "0754dad0-d200-d634-113c-ef1f26106028", u.ID.String())
	assert.Equal(t, "1.0", u.RuntimeVersion)
	assert.Equal(t, "@config/scope", u.ScopeKey)
	assert.False(t, u.IsDevelopmentMode)
	assert.Equal(t, headers.ManifestFilters, u.ManifestFilters)
	assert.Equal(t, headers.ServerDefinedHeaders, u.ServerDefinedHeaders)
	assert.Equal(t, "285dc9ca-a25d-4f60-93be-36dc312266d7", u.Manifest.New.EASProjectID())
	assert.Equal(t, map[string]any{"branchName": "main"}, u.Manifest.Metadata())
	assert.JSONEq(t, newManifestBody, string(u.RawManifestJSON()))

	require.Len(t, u.Assets, 2)
	launch := u.LaunchAsset()
	assert.Equal(t, "bundle", launch.Key)
	assert.Equal(t, "bundle", launch.Type)
	assert.Equal(t, "DW5MBgKq155wnX8rCP1lnsW6BsTbfKLXxGXRQx1RcOA", launch.ExpectedHash)
	assert.Nil(t, launch.ExtraRequestHeaders)

	icon := u.Assets[1]
	assert.Equal(t, "png", icon.Type)
	assert.Equal(t, map[string]string{"authorization": "Bearer t"}, icon.ExtraRequestHeaders)
}

func TestNewUpdate_NewBadCreatedAt(t *testing.T) {
	var buf bytes.Buffer
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	body := bytes.Replace([]byte(newManifestBody), []byte("2020-11-11T00:17:54.797Z"), []byte("garbage"), 1)

	u, err := NewUpdate(body, protocol(0), nil, ParseOptions{Logger: log.New(&buf, "", 0), now: func() time.Time { return fixed }})
	require.NoError(t, err)
	assert.Equal(t, fixed, u.CommitTime)
	assert.Contains(t, buf.String(), "createdAt")
}

func TestNewUpdate_UnsupportedProtocol(t *testing.T) {
	_, err := NewUpdate([]byte(newManifestBody), protocol(2), nil, ParseOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedProtocolVersion)
}

func TestNewUpdate_NewMissingFields(t *testing.T) {
	_, err := NewUpdate([]byte(`{"id": "0754dad0-d200-d634-113c-ef1f26106028", "launchAsset": {"key": "b", "url": "https://x"}}`), protocol(1), nil, ParseOptions{})
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = NewUpdate([]byte(`not json`), protocol(1), nil, ParseOptions{})
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestNewEmbeddedUpdate_Bare(t *testing.T) {
	body := []byte(`{
		"id": "79DA8D3D-F2A4-4E05-9A1F-B0C5A61E52B8",
		"commitTime": 1609975977832,
		"assets": [
			{"packagerHash": "54da1e9816c77e30ebc5920e256736f2", "type": "png", "resourcesFilename": "icon", "resourcesFolder": "drawable", "scales": [1, 2], "scale": 2},
			{"packagerHash": "single", "type": "png", "resourcesFilename": "logo", "scales": [1], "scale": 1}
		]
	}`)

	u, err := NewEmbeddedUpdate(body, ParseOptions{ScopeKey: "@owner/app", RuntimeVersion: "1.0"})
	require.NoError(t, err)
	assert.Equal(t, FormatBare, u.Manifest.Format)
	assert.True(t, u.IsVerified)
	assert.False(t, u.IsDevelopmentMode)
	assert.Equal(t, "@owner/app", u.ScopeKey)
	assert.Equal(t, "1.0", u.RuntimeVersion)
	assert.Equal(t, int64(1609975977832), u.CommitTime.UnixMilli())

	require.Len(t, u.Assets, 3)
	assert.Equal(t, "bundle-79da8d3d-f2a4-4e05-9a1f-b0c5a61e52b8", u.LaunchAsset().Key)

	multi := u.Assets[1]
	assert.Equal(t, 2.0, multi.Scale)
	assert.Equal(t, []float64{1, 2}, multi.Scales)
	assert.Equal(t, "drawable", multi.ResourcesFolder)

	single := u.Assets[2]
	assert.Zero(t, single.Scale)
	assert.Nil(t, single.Scales)
}

func TestNewEmbeddedUpdate_Legacy(t *testing.T) {
	body := []byte(`{"releaseId": "0eef8214-4833-4089-9dff-b4138a14f196", "commitTime": "2020-11-11T00:17:54.797Z", "bundleUrl": "https://x/y.js"}`)
	u, err := NewEmbeddedUpdate(body, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, FormatLegacy, u.Manifest.Format)
	assert.True(t, u.IsVerified)
}

func TestEmbeddedCache_LoadsOnce(t *testing.T) {
	calls := 0
	cache := NewEmbeddedCache(func() ([]byte, error) {
		calls++
		return []byte(`{"id": "79DA8D3D-F2A4-4E05-9A1F-B0C5A61E52B8", "commitTime": 1, "assets": []}`), nil
	}, ParseOptions{})

	first, err := cache.Get()
	require.NoError(t, err)
	second, err := cache.Get()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}
