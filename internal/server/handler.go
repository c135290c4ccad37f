/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/kentakayama/updates-over-http/internal/codesigning"
	"github.com/kentakayama/updates-over-http/internal/config"
	"github.com/kentakayama/updates-over-http/internal/manifest"
)

const (
	manifestPath = "/api/manifest"
	assetsPrefix = "/assets"

	headerProtocolVersion  = "expo-protocol-version"
	headerPlatform         = "expo-platform"
	headerRuntimeVersion   = "expo-runtime-version"
	headerCurrentUpdateID  = "expo-current-update-id"
	headerEmbeddedUpdateID = "expo-embedded-update-id"
	headerExpectSignature  = "expo-expect-signature"
	headerAcceptSignature  = "expo-accept-signature"
)

type handler struct {
	cfg              config.ServerConfig
	signingKey       *rsa.PrivateKey
	certificateChain string
	keyID            string
	router           *chi.Mux
	logger           *log.Logger
}

type responseSpec struct {
	status      int
	body        []byte
	contentType string
	header      http.Header
}

// responsePart is one part of a multipart/mixed manifest response.
type responsePart struct {
	name      string
	body      []byte
	signature string
}

func newHandler(cfg config.ServerConfig, signingKey *rsa.PrivateKey, certificateChain string, logger *log.Logger) *handler {
	h := &handler{
		cfg:              cfg,
		signingKey:       signingKey,
		certificateChain: certificateChain,
		keyID:            cfg.KeyID,
		logger:           logger,
	}
	if h.keyID == "" {
		h.keyID = codesigning.DefaultKeyID
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(manifestPath, h.serveManifest)
	r.Get(assetsPrefix+"/{runtimeVersion}/{update}/*", h.serveAsset)
	h.router = r
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (h *handler) serveManifest(w http.ResponseWriter, r *http.Request) {
	protocolVersion := h.cfg.ProtocolVersion
	if v := r.Header.Get(headerProtocolVersion); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 1 {
			http.Error(w, "Unsupported protocol version. Expected either 0 or 1.", http.StatusBadRequest)
			return
		}
		protocolVersion = n
	}

	platform := firstNonEmpty(r.Header.Get(headerPlatform), r.URL.Query().Get("platform"))
	if !config.SupportedPlatforms.Has(platform) {
		http.Error(w, "Unsupported platform. Expected either ios or android.", http.StatusBadRequest)
		return
	}

	runtimeVersion := firstNonEmpty(r.Header.Get(headerRuntimeVersion), r.URL.Query().Get("runtime-version"), h.cfg.RuntimeVersion)
	if runtimeVersion == "" {
		http.Error(w, "No runtimeVersion provided.", http.StatusBadRequest)
		return
	}

	expectSignature := firstNonEmpty(r.Header.Get(headerExpectSignature), r.Header.Get(headerAcceptSignature))
	if expectSignature != "" && h.signingKey == nil {
		http.Error(w, "Code signing requested but no key supplied when starting server.", http.StatusBadRequest)
		return
	}

	update, err := latestUpdate(h.cfg.UpdateDirectory, runtimeVersion)
	if err != nil {
		if errors.Is(err, ErrNoPublishedUpdate) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Printf("failed to load update for runtime version %q: %v", runtimeVersion, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	currentUpdateID := r.Header.Get(headerCurrentUpdateID)
	var part responsePart
	withExtensions := false

	switch {
	case update.rollback != nil:
		if protocolVersion == 0 {
			http.Error(w, "Rollbacks not supported on protocol version 0.", http.StatusBadRequest)
			return
		}
		embeddedUpdateID := r.Header.Get(headerEmbeddedUpdateID)
		if embeddedUpdateID == "" {
			http.Error(w, "Invalid Expo-Embedded-Update-ID request header specified.", http.StatusBadRequest)
			return
		}
		if currentUpdateID == embeddedUpdateID {
			part, err = h.directivePart(manifest.DirectiveNoUpdateAvailable, nil)
		} else {
			part, err = h.directivePart(manifest.DirectiveRollBackToEmbedded, update.rollback)
		}

	case protocolVersion == 1 && currentUpdateID == update.id.String():
		part, err = h.directivePart(manifest.DirectiveNoUpdateAvailable, nil)

	default:
		var m *manifest.NewManifest
		m, err = update.manifest(platform, h.assetBase(r), h.extra())
		if errors.Is(err, ErrPlatformNotIncluded) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err == nil {
			part.name = "manifest"
			part.body, err = json.Marshal(m)
			withExtensions = true
		}
	}
	if err != nil {
		h.logger.Printf("failed to build %s response: %v", runtimeVersion, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	parts, err := h.signedParts(part, expectSignature != "", withExtensions)
	if err != nil {
		h.logger.Printf("failed to sign %s: %v", part.name, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp, err := multipartResponse(parts, protocolVersion)
	if err != nil {
		h.logger.Printf("failed to encode response: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.logger.Printf("served %s for runtime version %q (%s, protocol %d)", part.name, runtimeVersion, platform, protocolVersion)
	h.writeResponse(w, resp)
}

func (h *handler) extra() manifest.NewExtra {
	extra := manifest.NewExtra{ScopeKey: h.cfg.ScopeKey}
	if h.cfg.ProjectID != "" {
		extra.EAS = &manifest.EASExtra{ProjectID: h.cfg.ProjectID}
	}
	return extra
}

func (h *handler) assetBase(r *http.Request) *url.URL {
	if h.cfg.PublicURL != "" {
		if u, err := url.Parse(h.cfg.PublicURL); err == nil {
			return u.JoinPath(assetsPrefix)
		}
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: r.Host, Path: assetsPrefix}
}

type directiveBody struct {
	Type       manifest.DirectiveType `json:"type"`
	Parameters *directiveParameters   `json:"parameters,omitempty"`
	Extra      *directiveExtra        `json:"extra,omitempty"`
}

type directiveParameters struct {
	CommitTime string `json:"commitTime"`
}

type directiveExtra struct {
	SigningInfo *manifest.SigningInfo `json:"signingInfo,omitempty"`
}

func (h *handler) directivePart(t manifest.DirectiveType, commitTime *time.Time) (responsePart, error) {
	d := directiveBody{Type: t}
	if commitTime != nil {
		d.Parameters = &directiveParameters{CommitTime: commitTime.Format(createdAtLayout)}
	}
	if h.cfg.ProjectID != "" || h.cfg.ScopeKey != "" {
		d.Extra = &directiveExtra{SigningInfo: &manifest.SigningInfo{
			EASProjectID: h.cfg.ProjectID,
			ScopeKey:     h.cfg.ScopeKey,
		}}
	}
	body, err := json.Marshal(d)
	if err != nil {
		return responsePart{}, err
	}
	return responsePart{name: "directive", body: body}, nil
}

// signedParts signs primary when requested and adds the extensions and
// certificate_chain parts.
func (h *handler) signedParts(primary responsePart, sign bool, withExtensions bool) ([]responsePart, error) {
	if sign {
		sig, err := codesigning.SignatureHeaderFor(primary.body, h.signingKey, h.keyID)
		if err != nil {
			return nil, err
		}
		primary.signature = sig
	}
	parts := []responsePart{primary}

	if withExtensions {
		ext, err := json.Marshal(manifest.Extensions{AssetRequestHeaders: map[string]map[string]string{}})
		if err != nil {
			return nil, err
		}
		parts = append(parts, responsePart{name: "extensions", body: ext})
	}
	if sign && h.certificateChain != "" {
		parts = append(parts, responsePart{name: "certificate_chain", body: []byte(h.certificateChain)})
	}
	return parts, nil
}

func multipartResponse(parts []responsePart, protocolVersion int) (responseSpec, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		ph := textproto.MIMEHeader{}
		ph.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, p.name))
		if p.name == "certificate_chain" {
			ph.Set("Content-Type", "application/x-pem-file")
		} else {
			ph.Set("Content-Type", "application/json; charset=utf-8")
		}
		if p.signature != "" {
			ph.Set(manifest.HeaderSignature, p.signature)
		}
		pw, err := mw.CreatePart(ph)
		if err != nil {
			return responseSpec{}, err
		}
		if _, err := pw.Write(p.body); err != nil {
			return responseSpec{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return responseSpec{}, err
	}

	header := http.Header{}
	header.Set(headerProtocolVersion, strconv.Itoa(protocolVersion))
	header.Set("expo-sfv-version", "0")
	header.Set("Cache-Control", "private, max-age=0")
	return responseSpec{
		status:      http.StatusOK,
		body:        buf.Bytes(),
		contentType: "multipart/mixed; boundary=" + mw.Boundary(),
		header:      header,
	}, nil
}

func (h *handler) serveAsset(w http.ResponseWriter, r *http.Request) {
	runtimeVersion := chi.URLParam(r, "runtimeVersion")
	name := chi.URLParam(r, "update")
	rel := path.Clean("/" + chi.URLParam(r, "*"))
	if !validPathSegment(runtimeVersion) || !validPathSegment(name) || rel == "/" {
		http.NotFound(w, r)
		return
	}

	full := filepath.Join(h.cfg.UpdateDirectory, runtimeVersion, name, filepath.FromSlash(rel))
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		h.logger.Printf("failed to read asset %s: %v", full, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeResponse(w, responseSpec{
		status:      http.StatusOK,
		body:        data,
		contentType: assetContentType(rel),
	})
}

func assetContentType(name string) string {
	switch ext := path.Ext(name); ext {
	case ".js", ".hbc", ".bundle":
		return "application/javascript"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

func (h *handler) writeResponse(w http.ResponseWriter, spec responseSpec) {
	w.Header().Set("Server", "updates-over-http")

	if len(spec.body) > 0 {
		for k, v := range defaultHeaders {
			w.Header().Set(k, v)
		}
		for k, vs := range spec.header {
			w.Header()[k] = vs
		}
		w.Header().Set("Content-Type", spec.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(spec.body)))
		w.WriteHeader(spec.status)
		if _, err := w.Write(spec.body); err != nil {
			h.logger.Printf("failed writing response body: %v", err)
		}
		return
	}

	w.WriteHeader(spec.status)
}

var defaultHeaders = map[string]string{
	"Cache-Control":          "no-store",
	"X-Content-Type-Options": "nosniff",
	"Referrer-Policy":        "no-referrer",
}
