/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package manifest

import (
	"encoding/json"
	"fmt"
)

// Format identifies which wire shape a manifest was parsed from.
type Format int

const (
	FormatLegacy Format = iota + 1
	FormatBare
	FormatNew
)

func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatBare:
		return "bare"
	case FormatNew:
		return "new"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Manifest is a tagged union: exactly the field named by Format is non-nil.
type Manifest struct {
	Format Format
	Legacy *LegacyManifest
	Bare   *BareManifest
	New    *NewManifest
	Raw    json.RawMessage
}

// Metadata returns the manifest metadata used for filter matching.
func (m *Manifest) Metadata() map[string]any {
	switch m.Format {
	case FormatLegacy:
		return m.Legacy.Metadata
	case FormatNew:
		return m.New.Metadata
	default:
		return nil
	}
}

// LegacyManifest is the classic-updates manifest.
type LegacyManifest struct {
	ID               string         `json:"id"`
	ReleaseID        string         `json:"releaseId"`
	CommitTime       string         `json:"commitTime"`
	SDKVersion       string         `json:"sdkVersion"`
	RuntimeVersion   string         `json:"runtimeVersion"`
	ScopeKey         string         `json:"scopeKey"`
	BundleURL        string         `json:"bundleUrl"`
	BundledAssets    []string       `json:"bundledAssets"`
	AssetURLOverride string         `json:"assetUrlOverride"`
	Metadata         map[string]any `json:"metadata"`
	Developer        *struct {
		Tool string `json:"tool"`
	} `json:"developer"`
	PackagerOpts *struct {
		Dev bool `json:"dev"`
	} `json:"packagerOpts"`
}

func (m *LegacyManifest) usesDeveloperTool() bool {
	return m.Developer != nil && m.Developer.Tool != ""
}

func (m *LegacyManifest) isDevelopmentMode() bool {
	return m.Developer != nil && m.PackagerOpts != nil && m.PackagerOpts.Dev
}

// BareManifest is the manifest embedded into apps built without a
// development server.
type BareManifest struct {
	ID         string      `json:"id"`
	CommitTime int64       `json:"commitTime"`
	Assets     []BareAsset `json:"assets"`
}

type BareAsset struct {
	PackagerHash      string    `json:"packagerHash"`
	Type              string    `json:"type"`
	ResourcesFilename string    `json:"resourcesFilename"`
	ResourcesFolder   string    `json:"resourcesFolder"`
	Scale             float64   `json:"scale"`
	Scales            []float64 `json:"scales"`
}

// NewManifest is the Expo Updates protocol manifest.
type NewManifest struct {
	ID             string         `json:"id"`
	CreatedAt      string         `json:"createdAt"`
	RuntimeVersion string         `json:"runtimeVersion"`
	LaunchAsset    NewAsset       `json:"launchAsset"`
	Assets         []NewAsset     `json:"assets"`
	Metadata       map[string]any `json:"metadata"`
	Extra          NewExtra       `json:"extra"`
}

type NewAsset struct {
	Key           string `json:"key"`
	ContentType   string `json:"contentType"`
	URL           string `json:"url"`
	Hash          string `json:"hash"`
	FileExtension string `json:"fileExtension"`
}

type NewExtra struct {
	ScopeKey string    `json:"scopeKey,omitempty"`
	EAS      *EASExtra `json:"eas,omitempty"`
	ExpoGo   *struct {
		Developer    map[string]any `json:"developer"`
		PackagerOpts *struct {
			Dev bool `json:"dev"`
		} `json:"packagerOpts"`
	} `json:"expoGo,omitempty"`
}

type EASExtra struct {
	ProjectID string `json:"projectId"`
}

// EASProjectID returns extra.eas.projectId or "".
func (m *NewManifest) EASProjectID() string {
	if m.Extra.EAS == nil {
		return ""
	}
	return m.Extra.EAS.ProjectID
}

func (m *NewManifest) isDevelopmentMode() bool {
	g := m.Extra.ExpoGo
	return g != nil && g.Developer != nil && g.PackagerOpts != nil && g.PackagerOpts.Dev
}

// Decode parses data as a manifest of the given format without normalizing
// it.
func Decode(data []byte, format Format) (*Manifest, error) {
	m := &Manifest{Format: format, Raw: json.RawMessage(data)}
	var err error
	switch format {
	case FormatLegacy:
		m.Legacy = &LegacyManifest{}
		err = json.Unmarshal(data, m.Legacy)
	case FormatBare:
		m.Bare = &BareManifest{}
		err = json.Unmarshal(data, m.Bare)
	case FormatNew:
		m.New = &NewManifest{}
		err = json.Unmarshal(data, m.New)
	default:
		return nil, fmt.Errorf("%w: unknown format %d", ErrInvalidManifest, int(format))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, format, err)
	}
	return m, nil
}
