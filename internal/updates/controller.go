/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package updates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/kentakayama/updates-over-http/internal/codesigning"
	"github.com/kentakayama/updates-over-http/internal/config"
	"github.com/kentakayama/updates-over-http/internal/domain/model"
	"github.com/kentakayama/updates-over-http/internal/infra/fetch"
	"github.com/kentakayama/updates-over-http/internal/infra/sqlite"
	"github.com/kentakayama/updates-over-http/internal/manifest"
	"github.com/kentakayama/updates-over-http/internal/selection"
	"github.com/kentakayama/updates-over-http/internal/statemachine"
)

// Fetcher performs the HTTP requests of the update protocol.
type Fetcher interface {
	FetchManifest(ctx context.Context, manifestURL *url.URL, headers http.Header) (*fetch.Response, error)
	DownloadAsset(ctx context.Context, assetURL *url.URL, headers map[string]string, expectedHash string) ([]byte, error)
}

// CheckResultKind tells what a check for updates found.
type CheckResultKind int

const (
	CheckResultNoUpdate CheckResultKind = iota
	CheckResultUpdateAvailable
	CheckResultRollBackToEmbedded
)

func (k CheckResultKind) String() string {
	switch k {
	case CheckResultNoUpdate:
		return "noUpdateAvailable"
	case CheckResultUpdateAvailable:
		return "updateAvailable"
	case CheckResultRollBackToEmbedded:
		return "rollBackToEmbedded"
	default:
		return fmt.Sprintf("CheckResultKind(%d)", int(k))
	}
}

type CheckResult struct {
	Kind CheckResultKind
	// Update is the candidate; for a rollback it is the embedded update.
	Update    *manifest.Update
	Directive *manifest.Directive
	// IsNew is false when the same update was already found earlier.
	IsNew bool
}

type FetchResult struct {
	Update *manifest.Update
	// IsNew is false when the update was already stored.
	IsNew bool
}

type Options struct {
	Config config.UpdatesConfig
	// CodeSigning is nil when the app does not pin a certificate.
	CodeSigning *codesigning.Configuration
	Fetcher     Fetcher
	DB          *sql.DB
	// EmbeddedManifest loads the manifest compiled into the app. nil means
	// the app has no embedded update.
	EmbeddedManifest func() ([]byte, error)
	Logger           *log.Logger
}

// Controller drives the update lifecycle: it checks the update server,
// downloads updates and tracks which update runs.
type Controller struct {
	cfg         config.UpdatesConfig
	manifestURL *url.URL
	scopeKey    string
	codeSigning *codesigning.Configuration
	fetcher     Fetcher
	store       *store
	embedded    *manifest.EmbeddedCache
	machine     *statemachine.Machine
	logger      *log.Logger

	mu        sync.Mutex
	launched  *manifest.Update
	available *CheckResult
	pending   *manifest.Update
	// lastFoundID is the update id last reported as available.
	lastFoundID uuid.UUID
}

func NewController(opts Options) (*Controller, error) {
	if opts.DB == nil {
		return nil, errors.New("database is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	manifestURL, err := url.Parse(opts.Config.URL)
	if err != nil || manifestURL.Scheme == "" || manifestURL.Host == "" {
		return nil, fmt.Errorf("%w: %q", config.ErrMissingUpdateURL, opts.Config.URL)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	scopeKey := opts.Config.ScopeKey
	if scopeKey == "" {
		scopeKey = normalizedOrigin(manifestURL)
	}

	c := &Controller{
		cfg:         opts.Config,
		manifestURL: manifestURL,
		scopeKey:    scopeKey,
		codeSigning: opts.CodeSigning,
		fetcher:     opts.Fetcher,
		store: &store{
			updates:   sqlite.NewUpdateRepository(opts.DB),
			jsonData:  sqlite.NewJSONDataRepository(opts.DB),
			assetsDir: opts.Config.AssetsDirectory,
		},
		machine: statemachine.New(),
		logger:  logger,
	}
	if opts.EmbeddedManifest != nil {
		c.embedded = manifest.NewEmbeddedCache(opts.EmbeddedManifest, c.parseOptions())
	}
	return c, nil
}

// normalizedOrigin is the default scope key: scheme://host with default
// ports dropped.
func normalizedOrigin(u *url.URL) string {
	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "https" && port == "443") || (u.Scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return u.Scheme + "://" + host
}

func (c *Controller) parseOptions() manifest.ParseOptions {
	return manifest.ParseOptions{
		ScopeKey:       c.scopeKey,
		RuntimeVersion: c.cfg.RuntimeVersion,
		ManifestURL:    c.manifestURL,
		Logger:         c.logger,
	}
}

// Init records the embedded update and picks the update to launch from
// what is stored.
func (c *Controller) Init(ctx context.Context) error {
	embedded, err := c.embeddedUpdate()
	if err != nil {
		return err
	}
	if embedded != nil {
		existing, err := c.store.findUpdate(ctx, embedded.ScopeKey, embedded.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			if err := c.store.saveUpdate(ctx, embedded, model.UpdateStatusEmbedded, nil); err != nil {
				return fmt.Errorf("store embedded update: %w", err)
			}
		}
	}

	stored, err := c.store.readyUpdates(ctx, c.scopeKey, c.cfg.RuntimeVersion)
	if err != nil {
		return err
	}
	filters, err := c.store.manifestFilters(ctx, c.scopeKey)
	if err != nil {
		return err
	}

	launch := selection.SelectUpdateToLaunch(stored, c.cfg.RuntimeVersion, filters)
	c.mu.Lock()
	c.launched = launch
	c.mu.Unlock()
	if launch != nil {
		c.logger.Printf("launching update %s (commit time %s)", launch.ID, launch.CommitTime)
	} else {
		c.logger.Printf("no launchable update stored for runtime version %q", c.cfg.RuntimeVersion)
	}
	return nil
}

func (c *Controller) embeddedUpdate() (*manifest.Update, error) {
	if c.embedded == nil {
		return nil, nil
	}
	return c.embedded.Get()
}

// LaunchedUpdate is the update currently running, or nil.
func (c *Controller) LaunchedUpdate() *manifest.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.launched
}

func (c *Controller) State() statemachine.State {
	return c.machine.State()
}

// Subscribe forwards every state change to ch.
func (c *Controller) Subscribe(ch chan<- statemachine.Change) {
	c.machine.Subscribe(ch)
}

// CheckForUpdate asks the update server whether an update newer than the
// launched one exists. Called while an update is pending it rechecks.
func (c *Controller) CheckForUpdate(ctx context.Context) (*CheckResult, error) {
	rechecking := c.machine.State() == statemachine.StateUpdatePending
	start, failed := statemachine.EventCheck, statemachine.EventCheckError
	if rechecking {
		start, failed = statemachine.EventRecheck, statemachine.EventRecheckError
	}
	if _, err := c.machine.Send(start); err != nil {
		return nil, err
	}

	result, err := c.check(ctx)
	if err != nil {
		c.logger.Printf("check for update failed: %v", err)
		if _, serr := c.machine.Send(failed); serr != nil {
			c.logger.Printf("state machine: %v", serr)
		}
		return nil, err
	}

	c.mu.Lock()
	if result.Kind != CheckResultNoUpdate {
		result.IsNew = result.Update.ID != c.lastFoundID
		c.lastFoundID = result.Update.ID
		c.available = result
	}
	c.mu.Unlock()

	if _, err := c.machine.Send(checkCompleteEvent(result, rechecking)); err != nil {
		return nil, err
	}
	return result, nil
}

func checkCompleteEvent(r *CheckResult, rechecking bool) statemachine.Event {
	switch {
	case r.Kind == CheckResultNoUpdate && rechecking:
		return statemachine.EventRecheckCompleteUnchanged
	case r.Kind == CheckResultNoUpdate:
		return statemachine.EventCheckCompleteUnavailable
	case rechecking && r.IsNew:
		return statemachine.EventRecheckCompleteNew
	case rechecking:
		return statemachine.EventRecheckCompleteUnchanged
	case r.IsNew:
		return statemachine.EventCheckCompleteAvailableNew
	default:
		return statemachine.EventCheckCompleteAvailableUnchanged
	}
}

func (c *Controller) check(ctx context.Context) (*CheckResult, error) {
	headers, err := c.requestHeaders(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.fetcher.FetchManifest(ctx, c.manifestURL, headers)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseUpdateResponse(resp.StatusCode, resp.Header, resp.Body, c.logger)
	if err != nil {
		return nil, err
	}
	if err := c.store.saveHeaderData(ctx, c.scopeKey, parsed.Headers); err != nil {
		return nil, fmt.Errorf("store response headers: %w", err)
	}

	filters := parsed.Headers.ManifestFilters
	launched := c.LaunchedUpdate()

	switch {
	case parsed.Directive != nil:
		d, err := c.verifyDirective(parsed)
		if err != nil {
			return nil, err
		}
		if d.Type == manifest.DirectiveNoUpdateAvailable {
			return &CheckResult{Kind: CheckResultNoUpdate, Directive: d}, nil
		}
		embedded, err := c.embeddedUpdate()
		if err != nil {
			return nil, err
		}
		if !selection.ShouldLoadRollBackToEmbeddedDirective(d, embedded, launched, filters) {
			return &CheckResult{Kind: CheckResultNoUpdate, Directive: d}, nil
		}
		return &CheckResult{Kind: CheckResultRollBackToEmbedded, Update: embedded, Directive: d}, nil

	case parsed.Manifest != nil:
		u, err := c.verifyManifest(parsed)
		if err != nil {
			return nil, err
		}
		if !selection.ShouldLoadNewUpdate(u, launched, filters) {
			return &CheckResult{Kind: CheckResultNoUpdate}, nil
		}
		return &CheckResult{Kind: CheckResultUpdateAvailable, Update: u}, nil

	default:
		return &CheckResult{Kind: CheckResultNoUpdate}, nil
	}
}

func (c *Controller) requestHeaders(ctx context.Context) (http.Header, error) {
	serverDefined, err := c.store.serverDefinedHeaders(ctx, c.scopeKey)
	if err != nil {
		return nil, err
	}
	clientID, err := c.store.easClientID(ctx)
	if err != nil {
		return nil, err
	}

	opts := RequestHeaderOptions{
		Platform:             c.cfg.Platform,
		RuntimeVersion:       c.cfg.RuntimeVersion,
		EASClientID:          clientID,
		ServerDefinedHeaders: serverDefined,
		ConfiguredHeaders:    c.cfg.RequestHeaders,
	}
	if launched := c.LaunchedUpdate(); launched != nil {
		opts.LaunchedUpdateID = launched.ID
	}
	if embedded, err := c.embeddedUpdate(); err == nil && embedded != nil {
		opts.EmbeddedUpdateID = embedded.ID
	}
	if c.codeSigning != nil {
		opts.ExpectSignature, err = c.codeSigning.CreateAcceptSignatureHeader()
		if err != nil {
			return nil, err
		}
	}
	return BuildRequestHeaders(opts), nil
}

// verifySignature checks a signed body when code signing is configured. It
// returns the certificate's project information when the body was verified
// and nil when verification was skipped.
func (c *Controller) verifySignature(signed *SignedBody, chain string) (verified bool, info *codesigning.ExpoProjectInformation, err error) {
	if c.codeSigning == nil {
		return false, nil, nil
	}
	res, err := c.codeSigning.ValidateSignature(signed.Signature, signed.Body, chain)
	if err != nil {
		return false, nil, err
	}
	switch res.Result {
	case codesigning.ValidationResultInvalid:
		return false, nil, ErrInvalidSignature
	case codesigning.ValidationResultSkipped:
		return false, nil, nil
	}
	return true, res.ExpoProjectInformation, nil
}

func (c *Controller) verifyManifest(parsed *UpdateResponse) (*manifest.Update, error) {
	verified, info, err := c.verifySignature(parsed.Manifest, parsed.CertificateChain)
	if err != nil {
		return nil, err
	}

	body := parsed.Manifest.Body
	if parsed.Headers.ProtocolVersion == nil {
		body = unwrapLegacyBody(body)
	}
	u, err := manifest.NewUpdate(body, parsed.Headers, parsed.Extensions, c.parseOptions())
	if err != nil {
		return nil, err
	}

	if info != nil {
		projectID, scopeKey := projectIdentity(u.Manifest)
		if info.ProjectID != projectID || info.ScopeKey != scopeKey {
			return nil, ErrProjectMismatch
		}
	}
	u.IsVerified = verified

	if !selection.MatchesFilters(u, parsed.Headers.ManifestFilters) {
		return nil, ErrFiltersMismatch
	}
	return u, nil
}

func (c *Controller) verifyDirective(parsed *UpdateResponse) (*manifest.Directive, error) {
	_, info, err := c.verifySignature(parsed.Directive, parsed.CertificateChain)
	if err != nil {
		return nil, err
	}
	d, err := manifest.ParseDirective(parsed.Directive.Body)
	if err != nil {
		return nil, err
	}
	if info != nil {
		var projectID, scopeKey string
		if d.SigningInfo != nil {
			projectID, scopeKey = d.SigningInfo.EASProjectID, d.SigningInfo.ScopeKey
		}
		if info.ProjectID != projectID || info.ScopeKey != scopeKey {
			return nil, ErrProjectMismatch
		}
	}
	return d, nil
}

// projectIdentity is the (project id, scope key) pair a certificate's
// project information must match.
func projectIdentity(m *manifest.Manifest) (string, string) {
	switch {
	case m.New != nil:
		return m.New.EASProjectID(), m.New.Extra.ScopeKey
	case m.Legacy != nil:
		return "", m.Legacy.ScopeKey
	default:
		return "", ""
	}
}

// FetchUpdate downloads the update found by the last check. A rollback to
// the embedded update needs no download.
func (c *Controller) FetchUpdate(ctx context.Context) (*FetchResult, error) {
	c.mu.Lock()
	available := c.available
	c.mu.Unlock()
	if available == nil || available.Update == nil {
		return nil, ErrNoUpdateAvailable
	}

	if _, err := c.machine.Send(statemachine.EventDownload); err != nil {
		return nil, err
	}

	isNew, err := c.download(ctx, available)
	if err != nil {
		c.logger.Printf("download of update %s failed: %v", available.Update.ID, err)
		if _, serr := c.machine.Send(statemachine.EventDownloadError); serr != nil {
			c.logger.Printf("state machine: %v", serr)
		}
		return nil, err
	}

	c.mu.Lock()
	c.pending = available.Update
	c.mu.Unlock()

	event := statemachine.EventDownloadCompleteUnchanged
	if isNew {
		event = statemachine.EventDownloadCompleteNew
	}
	if _, err := c.machine.Send(event); err != nil {
		return nil, err
	}
	return &FetchResult{Update: available.Update, IsNew: isNew}, nil
}

func (c *Controller) download(ctx context.Context, r *CheckResult) (bool, error) {
	u := r.Update
	if r.Kind == CheckResultRollBackToEmbedded {
		return false, nil
	}

	existing, err := c.store.findUpdate(ctx, u.ScopeKey, u.ID)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.Status != model.UpdateStatusPending {
		c.logger.Printf("update %s is already stored", u.ID)
		return false, nil
	}

	if err := checkAssets(u.Assets); err != nil {
		return false, err
	}

	files := make(map[string]string, len(u.Assets))
	for _, a := range u.Assets {
		if a.URL == nil {
			// shipped inside the app
			continue
		}
		data, err := c.fetcher.DownloadAsset(ctx, a.URL, a.ExtraRequestHeaders, a.ExpectedHash)
		if err != nil {
			return false, fmt.Errorf("asset %s: %w", a.Key, err)
		}
		name, err := c.store.writeAsset(a, data)
		if err != nil {
			return false, fmt.Errorf("asset %s: %w", a.Key, err)
		}
		files[a.Key] = name
	}

	if existing == nil {
		if err := c.store.saveUpdate(ctx, u, model.UpdateStatusPending, files); err != nil {
			return false, fmt.Errorf("store update: %w", err)
		}
	}
	if err := c.store.updates.MarkReady(ctx, u.ScopeKey, u.ID.String()); err != nil {
		return false, fmt.Errorf("mark update ready: %w", err)
	}
	c.logger.Printf("downloaded update %s (%d assets)", u.ID, len(files))
	return true, nil
}

// Reload switches to the downloaded update. The controller is terminal
// afterwards; the returned update is what the next process should launch.
func (c *Controller) Reload() (*manifest.Update, error) {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending == nil {
		return nil, ErrNoPendingUpdate
	}
	if _, err := c.machine.Send(statemachine.EventReload); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.launched = pending
	c.pending = nil
	c.mu.Unlock()
	return pending, nil
}

// Dismiss clears a check or download error.
func (c *Controller) Dismiss() error {
	_, err := c.machine.Send(statemachine.EventDismiss)
	return err
}
