/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kentakayama/updates-over-http/internal/manifest"
)

// layout of an exported update directory
const (
	metadataFile = "metadata.json"
	rollbackFile = "rollback"

	createdAtLayout = "2006-01-02T15:04:05.000Z"
)

var (
	ErrNoPublishedUpdate   = errors.New("no update published for runtime version")
	ErrPlatformNotIncluded = errors.New("update does not include platform")
)

// exportMetadata is the metadata.json written by an app export.
type exportMetadata struct {
	FileMetadata map[string]struct {
		Bundle string `json:"bundle"`
		Assets []struct {
			Path string `json:"path"`
			Ext  string `json:"ext"`
		} `json:"assets"`
	} `json:"fileMetadata"`
}

// publishedUpdate is one directory under <updateDirectory>/<runtimeVersion>.
type publishedUpdate struct {
	runtimeVersion string
	name           string
	dir            string

	// rollback is set when the directory holds a rollback marker instead of
	// an export.
	rollback  *time.Time
	id        uuid.UUID
	createdAt time.Time
	metadata  exportMetadata
}

func validPathSegment(s string) bool {
	return s != "" && s != "." && s != ".." && filepath.Base(s) == s && !strings.ContainsAny(s, `/\`)
}

// latestUpdate returns the update directory with the greatest name, which
// is how exports named by timestamp are ordered.
func latestUpdate(root, runtimeVersion string) (*publishedUpdate, error) {
	if !validPathSegment(runtimeVersion) {
		return nil, fmt.Errorf("%w: %q", ErrNoPublishedUpdate, runtimeVersion)
	}
	entries, err := os.ReadDir(filepath.Join(root, runtimeVersion))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrNoPublishedUpdate, runtimeVersion)
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoPublishedUpdate, runtimeVersion)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return loadPublishedUpdate(root, runtimeVersion, names[0])
}

func loadPublishedUpdate(root, runtimeVersion, name string) (*publishedUpdate, error) {
	p := &publishedUpdate{
		runtimeVersion: runtimeVersion,
		name:           name,
		dir:            filepath.Join(root, runtimeVersion, name),
	}

	if fi, err := os.Stat(filepath.Join(p.dir, rollbackFile)); err == nil {
		commitTime := fi.ModTime().UTC()
		data, err := os.ReadFile(filepath.Join(p.dir, rollbackFile))
		if err != nil {
			return nil, err
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("rollback marker %s: %w", p.dir, err)
			}
			commitTime = t.UTC()
		}
		p.rollback = &commitTime
		return p, nil
	}

	metadataPath := filepath.Join(p.dir, metadataFile)
	data, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &p.metadata); err != nil {
		return nil, fmt.Errorf("%s: %w", metadataPath, err)
	}
	fi, err := os.Stat(metadataPath)
	if err != nil {
		return nil, err
	}

	// the id only changes when the export does
	sum := sha256.Sum256(data)
	p.id, err = uuid.FromBytes(sum[:16])
	if err != nil {
		return nil, err
	}
	p.createdAt = fi.ModTime().UTC()
	return p, nil
}

// manifest renders the protocol manifest of the update for platform. Asset
// URLs are assetBase/<runtimeVersion>/<update>/<path>.
func (p *publishedUpdate) manifest(platform string, assetBase *url.URL, extra manifest.NewExtra) (*manifest.NewManifest, error) {
	files, ok := p.metadata.FileMetadata[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlatformNotIncluded, platform)
	}

	launch, err := p.asset(files.Bundle, "bundle", true, assetBase)
	if err != nil {
		return nil, err
	}
	m := &manifest.NewManifest{
		ID:             p.id.String(),
		CreatedAt:      p.createdAt.Format(createdAtLayout),
		RuntimeVersion: p.runtimeVersion,
		LaunchAsset:    launch,
		Assets:         []manifest.NewAsset{},
		Metadata:       map[string]any{},
		Extra:          extra,
	}
	for _, a := range files.Assets {
		asset, err := p.asset(a.Path, a.Ext, false, assetBase)
		if err != nil {
			return nil, err
		}
		m.Assets = append(m.Assets, asset)
	}
	return m, nil
}

func (p *publishedUpdate) asset(relPath, ext string, isLaunch bool, assetBase *url.URL) (manifest.NewAsset, error) {
	data, err := os.ReadFile(filepath.Join(p.dir, filepath.FromSlash(relPath)))
	if err != nil {
		return manifest.NewAsset{}, fmt.Errorf("asset %s: %w", relPath, err)
	}
	keySum := md5.Sum(data)

	contentType := "application/javascript"
	if !isLaunch {
		contentType = mime.TypeByExtension("." + ext)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}

	return manifest.NewAsset{
		Key:           hex.EncodeToString(keySum[:]),
		ContentType:   contentType,
		URL:           assetBase.JoinPath(p.runtimeVersion, p.name, relPath).String(),
		Hash:          manifest.AssetHash(data),
		FileExtension: "." + ext,
	}, nil
}
