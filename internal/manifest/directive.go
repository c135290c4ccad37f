/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package manifest

import (
	"encoding/json"
	"fmt"
	"time"
)

type DirectiveType string

const (
	DirectiveNoUpdateAvailable  DirectiveType = "noUpdateAvailable"
	DirectiveRollBackToEmbedded DirectiveType = "rollBackToEmbedded"
)

// SigningInfo binds a directive to a project, like extra.eas.projectId and
// extra.scopeKey do for manifests.
type SigningInfo struct {
	EASProjectID string `json:"easProjectId"`
	ScopeKey     string `json:"scopeKey"`
}

// Directive is a server instruction sent instead of a manifest.
type Directive struct {
	Type DirectiveType
	// CommitTime is set for DirectiveRollBackToEmbedded.
	CommitTime  time.Time
	SigningInfo *SigningInfo
	Raw         json.RawMessage
}

type directiveWire struct {
	Type       DirectiveType `json:"type"`
	Parameters *struct {
		CommitTime string `json:"commitTime"`
	} `json:"parameters"`
	Extra *struct {
		SigningInfo *SigningInfo `json:"signingInfo"`
	} `json:"extra"`
}

func ParseDirective(data []byte) (*Directive, error) {
	var w directiveWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDirective, err)
	}

	d := &Directive{Type: w.Type, Raw: json.RawMessage(data)}
	if w.Extra != nil {
		d.SigningInfo = w.Extra.SigningInfo
	}

	switch w.Type {
	case DirectiveNoUpdateAvailable:
	case DirectiveRollBackToEmbedded:
		if w.Parameters == nil || w.Parameters.CommitTime == "" {
			return nil, fmt.Errorf("%w: rollBackToEmbedded requires parameters.commitTime", ErrInvalidDirective)
		}
		t, err := time.Parse(time.RFC3339Nano, w.Parameters.CommitTime)
		if err != nil {
			return nil, fmt.Errorf("%w: commitTime: %v", ErrInvalidDirective, err)
		}
		d.CommitTime = t
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDirectiveType, w.Type)
	}
	return d, nil
}
