/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package manifest

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	legacyAssetPrefix       = "asset_"
	legacyCDNAssetsBase     = "https://classic-assets.eascdn.net/~assets/"
	defaultAssetURLOverride = "assets"

	EmbeddedBundleFilename = "app.bundle"
	bundleAssetType        = "js"
)

var expoDomains = []string{"expo.io", "exp.host", "expo.test"}

// Asset is one file belonging to an update.
type Asset struct {
	Key                   string
	Type                  string
	ContentType           string
	URL                   *url.URL
	ExpectedHash          string
	EmbeddedAssetFilename string
	ResourcesFilename     string
	ResourcesFolder       string
	// Scale and Scales are only set when the asset ships more than one scale.
	Scale               float64
	Scales              []float64
	IsLaunchAsset       bool
	ExtraRequestHeaders map[string]string
}

// Update is the normalized form of every manifest format.
type Update struct {
	ID                   uuid.UUID
	ScopeKey             string
	CommitTime           time.Time
	RuntimeVersion       string
	Assets               []*Asset
	IsDevelopmentMode    bool
	IsVerified           bool
	ServerDefinedHeaders map[string]any
	ManifestFilters      map[string]any
	Manifest             *Manifest
}

// LaunchAsset returns the only asset flagged as the launch asset.
func (u *Update) LaunchAsset() *Asset {
	for _, a := range u.Assets {
		if a.IsLaunchAsset {
			return a
		}
	}
	return nil
}

// RawManifestJSON is the manifest body exactly as received.
func (u *Update) RawManifestJSON() json.RawMessage {
	return u.Manifest.Raw
}

// ParseOptions carry client configuration needed to normalize manifests.
type ParseOptions struct {
	// ScopeKey is used when the manifest does not carry its own.
	ScopeKey string
	// RuntimeVersion is used for bare manifests, which do not carry one.
	RuntimeVersion string
	// ManifestURL is the URL the manifest was requested from, used to
	// resolve relative legacy asset URLs.
	ManifestURL *url.URL
	Logger      *log.Logger
	now         func() time.Time
}

func (o *ParseOptions) logger() *log.Logger {
	if o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

func (o *ParseOptions) currentTime() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

// NewUpdate parses a manifest fetched from an update server. The
// expo-protocol-version header selects the format: absent means legacy, 0
// and 1 mean the Expo Updates protocol.
func NewUpdate(body []byte, headers *ResponseHeaderData, extensions *Extensions, opts ParseOptions) (*Update, error) {
	if headers == nil {
		headers = &ResponseHeaderData{}
	}

	format := FormatLegacy
	if v := headers.ProtocolVersion; v != nil {
		switch *v {
		case 0, 1:
			format = FormatNew
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedProtocolVersion, *v)
		}
	}

	m, err := Decode(body, format)
	if err != nil {
		return nil, err
	}
	u, err := m.normalize(extensions, &opts)
	if err != nil {
		return nil, err
	}
	u.ServerDefinedHeaders = headers.ServerDefinedHeaders
	u.ManifestFilters = headers.ManifestFilters
	return u, nil
}

func (m *Manifest) normalize(extensions *Extensions, opts *ParseOptions) (*Update, error) {
	switch m.Format {
	case FormatLegacy:
		return m.normalizeLegacy(opts)
	case FormatBare:
		return m.normalizeBare(opts)
	case FormatNew:
		return m.normalizeNew(extensions, opts)
	default:
		return nil, fmt.Errorf("%w: unknown format %d", ErrInvalidManifest, int(m.Format))
	}
}

func (m *Manifest) normalizeLegacy(opts *ParseOptions) (*Update, error) {
	lm := m.Legacy
	logger := opts.logger()

	var id uuid.UUID
	commitTime := opts.currentTime()
	if lm.usesDeveloperTool() {
		// development manifests have no release id
		id = uuid.New()
	} else {
		if lm.ReleaseID == "" {
			return nil, fmt.Errorf("%w: releaseId", ErrMissingField)
		}
		parsed, err := uuid.Parse(lm.ReleaseID)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidUpdateID, lm.ReleaseID)
		}
		id = parsed
		if t, err := time.Parse(time.RFC3339Nano, lm.CommitTime); err == nil {
			commitTime = t
		} else {
			logger.Printf("could not parse commitTime %q of update %s, using current time", lm.CommitTime, id)
		}
	}

	if lm.BundleURL == "" {
		return nil, fmt.Errorf("%w: bundleUrl", ErrMissingField)
	}
	bundleURL, err := url.Parse(lm.BundleURL)
	if err != nil {
		return nil, fmt.Errorf("%w: bundleUrl: %v", ErrInvalidManifest, err)
	}

	runtimeVersion := lm.RuntimeVersion
	if runtimeVersion == "" {
		runtimeVersion = lm.SDKVersion
	}
	scopeKey := lm.ScopeKey
	if scopeKey == "" {
		scopeKey = lm.ID
	}
	if scopeKey == "" {
		scopeKey = opts.ScopeKey
	}

	assets := []*Asset{{
		Key:                   "bundle-" + id.String(),
		Type:                  bundleAssetType,
		URL:                   bundleURL,
		IsLaunchAsset:         true,
		EmbeddedAssetFilename: EmbeddedBundleFilename,
	}}

	base, err := legacyAssetsBase(opts.ManifestURL, lm.AssetURLOverride)
	if err != nil {
		return nil, err
	}
	for _, filename := range lm.BundledAssets {
		hash, ext := splitLegacyAssetFilename(filename)
		a := &Asset{
			Key:                   hash,
			Type:                  ext,
			EmbeddedAssetFilename: filename,
		}
		if base != nil {
			a.URL = base.JoinPath(hash)
		}
		assets = append(assets, a)
	}

	return &Update{
		ID:                id,
		ScopeKey:          scopeKey,
		CommitTime:        commitTime,
		RuntimeVersion:    runtimeVersion,
		Assets:            assets,
		IsDevelopmentMode: lm.isDevelopmentMode(),
		Manifest:          m,
	}, nil
}

// splitLegacyAssetFilename splits "asset_<hash>.<ext>".
func splitLegacyAssetFilename(filename string) (hash string, ext string) {
	name := strings.TrimPrefix(filename, legacyAssetPrefix)
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

func legacyAssetsBase(manifestURL *url.URL, override string) (*url.URL, error) {
	if manifestURL == nil {
		return nil, nil
	}
	host := manifestURL.Hostname()
	for _, d := range expoDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return url.Parse(legacyCDNAssetsBase)
		}
	}
	if override == "" {
		override = defaultAssetURLOverride
	}
	ref, err := url.Parse(override)
	if err != nil {
		return nil, fmt.Errorf("%w: assetUrlOverride: %v", ErrInvalidManifest, err)
	}
	return manifestURL.ResolveReference(ref), nil
}

func (m *Manifest) normalizeBare(opts *ParseOptions) (*Update, error) {
	bm := m.Bare
	if bm.ID == "" {
		return nil, fmt.Errorf("%w: id", ErrMissingField)
	}
	id, err := uuid.Parse(bm.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUpdateID, bm.ID)
	}

	assets := []*Asset{{
		Key:                   "bundle-" + id.String(),
		Type:                  bundleAssetType,
		IsLaunchAsset:         true,
		EmbeddedAssetFilename: EmbeddedBundleFilename,
	}}
	for _, ba := range bm.Assets {
		a := &Asset{
			Key:                   ba.PackagerHash,
			Type:                  ba.Type,
			EmbeddedAssetFilename: ba.ResourcesFilename,
			ResourcesFilename:     ba.ResourcesFilename,
			ResourcesFolder:       ba.ResourcesFolder,
		}
		if len(ba.Scales) > 1 {
			a.Scale = ba.Scale
			a.Scales = ba.Scales
		}
		assets = append(assets, a)
	}

	return &Update{
		ID:             id,
		ScopeKey:       opts.ScopeKey,
		CommitTime:     time.UnixMilli(bm.CommitTime),
		RuntimeVersion: opts.RuntimeVersion,
		Assets:         assets,
		Manifest:       m,
	}, nil
}

func (m *Manifest) normalizeNew(extensions *Extensions, opts *ParseOptions) (*Update, error) {
	nm := m.New
	if nm.ID == "" {
		return nil, fmt.Errorf("%w: id", ErrMissingField)
	}
	id, err := uuid.Parse(nm.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUpdateID, nm.ID)
	}
	if nm.RuntimeVersion == "" {
		return nil, fmt.Errorf("%w: runtimeVersion", ErrMissingField)
	}
	if nm.LaunchAsset.URL == "" {
		return nil, fmt.Errorf("%w: launchAsset.url", ErrMissingField)
	}

	commitTime, err := time.Parse(time.RFC3339Nano, nm.CreatedAt)
	if err != nil {
		opts.logger().Printf("could not parse createdAt %q of update %s, using current time", nm.CreatedAt, id)
		commitTime = opts.currentTime()
	}

	launch, err := newAsset(nm.LaunchAsset, extensions)
	if err != nil {
		return nil, err
	}
	launch.IsLaunchAsset = true
	assets := []*Asset{launch}
	for _, na := range nm.Assets {
		a, err := newAsset(na, extensions)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}

	return &Update{
		ID:                id,
		ScopeKey:          opts.ScopeKey,
		CommitTime:        commitTime,
		RuntimeVersion:    nm.RuntimeVersion,
		Assets:            assets,
		IsDevelopmentMode: nm.isDevelopmentMode(),
		Manifest:          m,
	}, nil
}

func newAsset(na NewAsset, extensions *Extensions) (*Asset, error) {
	if na.Key == "" {
		return nil, fmt.Errorf("%w: asset key", ErrMissingField)
	}
	var u *url.URL
	if na.URL != "" {
		parsed, err := url.Parse(na.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: asset %s url: %v", ErrInvalidManifest, na.Key, err)
		}
		u = parsed
	}
	return &Asset{
		Key:                 na.Key,
		Type:                strings.TrimPrefix(na.FileExtension, "."),
		ContentType:         na.ContentType,
		URL:                 u,
		ExpectedHash:        na.Hash,
		ExtraRequestHeaders: extensions.requestHeadersFor(na.Key),
	}, nil
}
