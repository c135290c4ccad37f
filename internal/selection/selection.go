/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package selection decides which updates may be launched and whether a
// freshly fetched update should replace the running one.
package selection

import (
	"github.com/kentakayama/updates-over-http/internal/manifest"
)

// MatchesFilters reports whether the update's manifest metadata agrees with
// every filter. A filter key absent from the metadata does not exclude the
// update.
func MatchesFilters(u *manifest.Update, filters map[string]any) bool {
	if len(filters) == 0 || u == nil || u.Manifest == nil {
		return true
	}
	metadata := u.Manifest.Metadata()
	for key, want := range filters {
		got, ok := metadata[key]
		if !ok {
			continue
		}
		if !equalPrimitive(got, want) {
			return false
		}
	}
	return true
}

// equalPrimitive compares a JSON-decoded value with a structured header
// value; JSON numbers decode as float64 and header integers as int64.
func equalPrimitive(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		return ok && fa == fb
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// IsLaunchable reports whether u was built for runtimeVersion and passes the
// stored manifest filters.
func IsLaunchable(u *manifest.Update, runtimeVersion string, filters map[string]any) bool {
	return u != nil && u.RuntimeVersion == runtimeVersion && MatchesFilters(u, filters)
}

// SelectUpdateToLaunch returns the newest launchable update, or nil.
func SelectUpdateToLaunch(updates []*manifest.Update, runtimeVersion string, filters map[string]any) *manifest.Update {
	var best *manifest.Update
	for _, u := range updates {
		if !IsLaunchable(u, runtimeVersion, filters) {
			continue
		}
		if best == nil || u.CommitTime.After(best.CommitTime) {
			best = u
		}
	}
	return best
}

// ShouldLoadNewUpdate reports whether candidate should replace launched. A
// launched update that no longer matches the filters is always replaced.
func ShouldLoadNewUpdate(candidate, launched *manifest.Update, filters map[string]any) bool {
	if candidate == nil {
		return false
	}
	if launched == nil {
		return true
	}
	if !MatchesFilters(launched, filters) {
		return true
	}
	return candidate.CommitTime.After(launched.CommitTime)
}

// ShouldLoadRollBackToEmbeddedDirective reports whether a rollBackToEmbedded
// directive should take effect. It never does for apps without an embedded
// update.
func ShouldLoadRollBackToEmbeddedDirective(d *manifest.Directive, embedded, launched *manifest.Update, filters map[string]any) bool {
	if d == nil || d.Type != manifest.DirectiveRollBackToEmbedded || embedded == nil {
		return false
	}
	if launched == nil {
		return true
	}
	if !MatchesFilters(launched, filters) {
		return true
	}
	return d.CommitTime.After(launched.CommitTime)
}
