/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/kentakayama/updates-over-http/internal/domain/model"
	"github.com/kentakayama/updates-over-http/internal/domain/service"
	"github.com/kentakayama/updates-over-http/internal/manifest"
	"github.com/kentakayama/updates-over-http/internal/util"
)

// json_data keys that are not scoped to one app
const (
	easClientIDScope = ""
	easClientIDKey   = "easClientId"
)

// assetRecord is one entry of the CBOR asset list stored with each update.
type assetRecord struct {
	Key                   string            `cbor:"1,keyasint"`
	Type                  string            `cbor:"2,keyasint,omitempty"`
	ContentType           string            `cbor:"3,keyasint,omitempty"`
	URL                   string            `cbor:"4,keyasint,omitempty"`
	ExpectedHash          string            `cbor:"5,keyasint,omitempty"`
	EmbeddedAssetFilename string            `cbor:"6,keyasint,omitempty"`
	IsLaunchAsset         bool              `cbor:"7,keyasint,omitempty"`
	Scale                 float64           `cbor:"8,keyasint,omitempty"`
	Scales                []float64         `cbor:"9,keyasint,omitempty"`
	ExtraRequestHeaders   map[string]string `cbor:"10,keyasint,omitempty"`
	// Filename is the downloaded copy relative to the assets directory.
	Filename          string `cbor:"11,keyasint,omitempty"`
	ResourcesFilename string `cbor:"12,keyasint,omitempty"`
	ResourcesFolder   string `cbor:"13,keyasint,omitempty"`
}

func encodeAssets(assets []*manifest.Asset, files map[string]string) ([]byte, error) {
	seen := util.NewSet[string]()
	records := make([]assetRecord, 0, len(assets))
	for _, a := range assets {
		if seen.Has(a.Key) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateAssetKey, a.Key)
		}
		seen.Add(a.Key)

		r := assetRecord{
			Key:                   a.Key,
			Type:                  a.Type,
			ContentType:           a.ContentType,
			ExpectedHash:          a.ExpectedHash,
			EmbeddedAssetFilename: a.EmbeddedAssetFilename,
			IsLaunchAsset:         a.IsLaunchAsset,
			Scale:                 a.Scale,
			Scales:                a.Scales,
			ExtraRequestHeaders:   a.ExtraRequestHeaders,
			Filename:              files[a.Key],
			ResourcesFilename:     a.ResourcesFilename,
			ResourcesFolder:       a.ResourcesFolder,
		}
		if a.URL != nil {
			r.URL = a.URL.String()
		}
		records = append(records, r)
	}
	return cbor.Marshal(records)
}

func decodeAssets(data []byte) ([]*manifest.Asset, map[string]string, error) {
	var records []assetRecord
	if err := cbor.Unmarshal(data, &records); err != nil {
		return nil, nil, fmt.Errorf("decode assets: %w", err)
	}

	assets := make([]*manifest.Asset, 0, len(records))
	files := make(map[string]string)
	for _, r := range records {
		a := &manifest.Asset{
			Key:                   r.Key,
			Type:                  r.Type,
			ContentType:           r.ContentType,
			ExpectedHash:          r.ExpectedHash,
			EmbeddedAssetFilename: r.EmbeddedAssetFilename,
			IsLaunchAsset:         r.IsLaunchAsset,
			Scale:                 r.Scale,
			Scales:                r.Scales,
			ExtraRequestHeaders:   r.ExtraRequestHeaders,
			ResourcesFilename:     r.ResourcesFilename,
			ResourcesFolder:       r.ResourcesFolder,
		}
		if r.URL != "" {
			u, err := url.Parse(r.URL)
			if err != nil {
				return nil, nil, fmt.Errorf("decode asset %q url: %w", r.Key, err)
			}
			a.URL = u
		}
		if r.Filename != "" {
			files[r.Key] = r.Filename
		}
		assets = append(assets, a)
	}
	return assets, files, nil
}

// store persists updates and per-scope protocol state.
type store struct {
	updates   service.UpdateRepository
	jsonData  service.JSONDataRepository
	assetsDir string
}

func (s *store) saveUpdate(ctx context.Context, u *manifest.Update, status model.UpdateStatus, files map[string]string) error {
	assets, err := encodeAssets(u.Assets, files)
	if err != nil {
		return err
	}
	var launchAssetKey string
	if la := u.LaunchAsset(); la != nil {
		launchAssetKey = la.Key
	}

	_, err = s.updates.Create(ctx, &model.Update{
		UpdateID:       u.ID.String(),
		ScopeKey:       u.ScopeKey,
		CommitTime:     u.CommitTime,
		RuntimeVersion: u.RuntimeVersion,
		LaunchAssetKey: launchAssetKey,
		ManifestFormat: int(u.Manifest.Format),
		Assets:         assets,
		Manifest:       u.RawManifestJSON(),
		Status:         status,
		CreatedAt:      time.Now().UTC(),
	})
	return err
}

// findUpdate returns the stored update with id, or nil.
func (s *store) findUpdate(ctx context.Context, scopeKey string, id uuid.UUID) (*model.Update, error) {
	return s.updates.FindByID(ctx, scopeKey, id.String())
}

func (s *store) readyUpdates(ctx context.Context, scopeKey, runtimeVersion string) ([]*manifest.Update, error) {
	records, err := s.updates.ListReady(ctx, scopeKey, runtimeVersion)
	if err != nil {
		return nil, err
	}
	out := make([]*manifest.Update, 0, len(records))
	for _, r := range records {
		u, err := updateFromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func updateFromRecord(r *model.Update) (*manifest.Update, error) {
	id, err := uuid.Parse(r.UpdateID)
	if err != nil {
		return nil, fmt.Errorf("stored update id %q: %w", r.UpdateID, err)
	}
	m, err := manifest.Decode(r.Manifest, manifest.Format(r.ManifestFormat))
	if err != nil {
		return nil, err
	}
	assets, _, err := decodeAssets(r.Assets)
	if err != nil {
		return nil, err
	}
	return &manifest.Update{
		ID:             id,
		ScopeKey:       r.ScopeKey,
		CommitTime:     r.CommitTime,
		RuntimeVersion: r.RuntimeVersion,
		Assets:         assets,
		IsVerified:     true,
		Manifest:       m,
	}, nil
}

// saveHeaderData keeps the server-defined headers and manifest filters of a
// response. Headers the response did not carry leave the stored value alone.
func (s *store) saveHeaderData(ctx context.Context, scopeKey string, h *manifest.ResponseHeaderData) error {
	if h == nil {
		return nil
	}
	if h.ServerDefinedHeaders != nil {
		if err := s.setJSON(ctx, scopeKey, model.JSONDataKeyServerDefinedHeaders, h.ServerDefinedHeaders); err != nil {
			return err
		}
	}
	if h.ManifestFilters != nil {
		if err := s.setJSON(ctx, scopeKey, model.JSONDataKeyManifestFilters, h.ManifestFilters); err != nil {
			return err
		}
	}
	return nil
}

func (s *store) serverDefinedHeaders(ctx context.Context, scopeKey string) (map[string]any, error) {
	return s.getJSONMap(ctx, scopeKey, model.JSONDataKeyServerDefinedHeaders)
}

func (s *store) manifestFilters(ctx context.Context, scopeKey string) (map[string]any, error) {
	return s.getJSONMap(ctx, scopeKey, model.JSONDataKeyManifestFilters)
}

func (s *store) setJSON(ctx context.Context, scopeKey, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.jsonData.Set(ctx, &model.JSONData{
		Key:         key,
		ScopeKey:    scopeKey,
		Value:       value,
		LastUpdated: time.Now().UTC(),
	})
}

func (s *store) getJSONMap(ctx context.Context, scopeKey, key string) (map[string]any, error) {
	d, err := s.jsonData.Get(ctx, scopeKey, key)
	if err != nil || d == nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(d.Value, &m); err != nil {
		return nil, fmt.Errorf("stored %s: %w", key, err)
	}
	return m, nil
}

// easClientID returns the installation id sent as EAS-Client-ID, creating
// it on first use.
func (s *store) easClientID(ctx context.Context) (string, error) {
	d, err := s.jsonData.Get(ctx, easClientIDScope, easClientIDKey)
	if err != nil {
		return "", err
	}
	if d != nil {
		var id string
		if err := json.Unmarshal(d.Value, &id); err == nil && id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := s.setJSON(ctx, easClientIDScope, easClientIDKey, id); err != nil {
		return "", err
	}
	return id, nil
}

// assetFileName is the key plus the file extension. It must stay a single
// path element so the file lands directly in the assets directory.
func assetFileName(a *manifest.Asset) (string, error) {
	name := a.Key
	if a.Type != "" {
		name += "." + a.Type
	}
	if a.Key == "" || name == "." || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidAssetName, name)
	}
	return name, nil
}

// checkAssets rejects an asset list before anything is downloaded.
func checkAssets(assets []*manifest.Asset) error {
	seen := util.NewSet[string]()
	for _, a := range assets {
		if seen.Has(a.Key) {
			return fmt.Errorf("%w: %q", ErrDuplicateAssetKey, a.Key)
		}
		seen.Add(a.Key)
		if a.URL == nil {
			continue
		}
		if _, err := assetFileName(a); err != nil {
			return err
		}
	}
	return nil
}

// writeAsset stores data under the assets directory and returns the file
// name relative to it. Nothing is written when no directory is configured.
func (s *store) writeAsset(a *manifest.Asset, data []byte) (string, error) {
	if s.assetsDir == "" {
		return "", nil
	}
	name, err := assetFileName(a)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.assetsDir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.assetsDir, ".asset-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.assetsDir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return name, nil
}
