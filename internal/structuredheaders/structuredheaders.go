/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package structuredheaders reads and writes the RFC 8941 dictionaries
// carried by expo-signature, expo-manifest-filters and
// expo-server-defined-headers.
package structuredheaders

import (
	"errors"
	"fmt"

	"github.com/dunglas/httpsfv"
)

var (
	ErrMalformedDictionary = errors.New("malformed structured header dictionary")
)

// Entry is one dictionary member to serialize. A Value of true is written as
// a bare key, as RFC 8941 requires.
type Entry struct {
	Key   string
	Value any
}

// ParseDictionary parses raw as a structured header dictionary. Member
// parameters are kept on the returned items but callers in this module
// ignore them.
func ParseDictionary(raw string) (*httpsfv.Dictionary, error) {
	dict, err := httpsfv.UnmarshalDictionary([]string{raw})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDictionary, err)
	}
	return dict, nil
}

// StringMember returns the string value stored under key. ok is false when
// the key is absent or holds anything other than a string item.
func StringMember(dict *httpsfv.Dictionary, key string) (string, bool) {
	member, found := dict.Get(key)
	if !found {
		return "", false
	}
	item, isItem := member.(httpsfv.Item)
	if !isItem {
		return "", false
	}
	s, isString := item.Value.(string)
	return s, isString
}

// PrimitiveDictionary parses raw and keeps only members whose value is a
// string, boolean, integer or decimal. Tokens, byte sequences and inner
// lists are dropped without error.
func PrimitiveDictionary(raw string) (map[string]any, error) {
	dict, err := ParseDictionary(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(dict.Names()))
	for _, name := range dict.Names() {
		member, _ := dict.Get(name)
		item, isItem := member.(httpsfv.Item)
		if !isItem {
			continue
		}
		switch v := item.Value.(type) {
		case string, bool, int64, float64:
			out[name] = v
		}
	}
	return out, nil
}

// SerializeDictionary writes entries, in order, as a structured header
// dictionary. Strings are escaped per RFC 8941 section 3.3.3.
func SerializeDictionary(entries ...Entry) (string, error) {
	dict := httpsfv.NewDictionary()
	for _, e := range entries {
		dict.Add(e.Key, httpsfv.NewItem(e.Value))
	}
	out, err := httpsfv.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("serialize structured header: %w", err)
	}
	return out, nil
}
