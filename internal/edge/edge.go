// Package edge is the intermediary between the web client and its origin.
// It serves page routes network-first from a persistent cache, replays
// queued background-sync work, refreshes periodic routes and relays push
// payloads into the notification log.
package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/agrisense/agrisensed/internal/notify"
	"github.com/agrisense/agrisensed/internal/storage"
)

// HeaderSource tells the client where a response came from.
const HeaderSource = "X-Edge-Source"

const (
	SourceNetwork   = "network"
	SourceCache     = "cache"
	SourceFallback  = "fallback"
	SourceSynthetic = "synthetic"
)

const (
	maxBodyBytes              = 16 << 20
	defaultInstallConcurrency = 4
	syntheticBody             = "Network error happened"
)

var (
	// ErrNetwork wraps every failure to reach the origin.
	ErrNetwork = errors.New("origin unreachable")
	// ErrUnknownTag is returned for a sync or periodic tag the manifest does
	// not list.
	ErrUnknownTag = errors.New("unknown sync tag")
)

// hopHeaders are not forwarded in either direction.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade", "Content-Length", "Accept-Encoding",
}

// KV records the installed manifest. Implemented by storage.Store.
type KV interface {
	SetKV(ctx context.Context, key, value string) error
}

// JobStore is the background-sync queue. Implemented by storage.Store.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) (bool, error)
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	CountJobs(ctx context.Context, jobType, status string) (int, error)
}

// PushSink records relayed push payloads and holds the alert permission the
// user granted. Implemented by notify.Store.
type PushSink interface {
	Append(ctx context.Context, d notify.Draft) (notify.Record, error)
	Permission() notify.Permission
}

// Observer receives per-response and per-replay events (metrics).
type Observer interface {
	EdgeServed(source string)
	SyncReplayed(tag, result string)
}

type Options struct {
	// Origin is the base URL of the web client's server.
	Origin             string
	Client             *http.Client
	Cache              Cache
	Manifest           Manifest
	InstallConcurrency int
	Jobs               JobStore
	KV                 KV
	Notes              PushSink
	Alerter            notify.Alerter
	Observer           Observer
	Logger             *slog.Logger
}

// Intermediary is an http.Handler placed in front of the origin.
type Intermediary struct {
	origin       *url.URL
	client       *http.Client
	cache        Cache
	manifest     Manifest
	installLimit int
	jobs         JobStore
	kv           KV
	notes        PushSink
	alerter      notify.Alerter
	observer     Observer
	logger       *slog.Logger
	now          func() time.Time

	refreshes singleflight.Group
	installed atomic.Bool
	active    atomic.Bool
}

func New(opts Options) (*Intermediary, error) {
	origin, err := url.Parse(strings.TrimRight(opts.Origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing origin URL: %w", err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return nil, fmt.Errorf("origin URL %q must be http or https", opts.Origin)
	}
	if opts.Manifest.Routes == nil {
		opts.Manifest = DefaultManifest()
	}
	if err := opts.Manifest.Validate(); err != nil {
		return nil, err
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.InstallConcurrency <= 0 {
		opts.InstallConcurrency = defaultInstallConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Intermediary{
		origin:       origin,
		client:       opts.Client,
		cache:        opts.Cache,
		manifest:     opts.Manifest,
		installLimit: opts.InstallConcurrency,
		jobs:         opts.Jobs,
		kv:           opts.KV,
		notes:        opts.Notes,
		alerter:      opts.Alerter,
		observer:     opts.Observer,
		logger:       opts.Logger,
		now:          time.Now,
	}, nil
}

func cacheKey(method, uri string) string {
	return method + " " + uri
}

// ServeHTTP forwards non-GET and /api/ requests untouched and serves GET
// page routes network-first once the intermediary is active.
func (in *Intermediary) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.RequestURI()
	entry, err := in.fetch(r.Context(), r.Method, uri, r.Header, r.Body)

	cacheable := r.Method == http.MethodGet && !isAPIPath(r.URL.Path) && in.active.Load()
	if !cacheable {
		if err != nil {
			in.logger.Debug("origin unreachable", "method", r.Method, "uri", uri, "error", err)
			in.writeSynthetic(w)
			return
		}
		in.write(w, entry, SourceNetwork)
		return
	}

	if err == nil {
		if entry.Status >= 200 && entry.Status < 300 {
			if perr := in.cache.Put(context.WithoutCancel(r.Context()), entry); perr != nil {
				in.logger.Warn("cache write failed", "key", entry.Key, "error", perr)
			}
		}
		in.write(w, entry, SourceNetwork)
		return
	}

	in.logger.Debug("origin unreachable, trying cache", "uri", uri, "error", err)
	in.serveOffline(w, r, cacheKey(r.Method, uri))
}

func (in *Intermediary) serveOffline(w http.ResponseWriter, r *http.Request, key string) {
	ctx := r.Context()
	e, err := in.cache.Get(ctx, key)
	if err == nil {
		in.write(w, e, SourceCache)
		return
	}
	if !errors.Is(err, ErrCacheMiss) {
		in.logger.Warn("cache read failed", "key", key, "error", err)
		in.writeSynthetic(w)
		return
	}
	if isNavigation(r) {
		if e, err := in.cache.Get(ctx, cacheKey(http.MethodGet, "/")); err == nil {
			in.write(w, e, SourceFallback)
			return
		}
	}
	in.writeSynthetic(w)
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (in *Intermediary) write(w http.ResponseWriter, e Entry, source string) {
	h := w.Header()
	for k, vs := range e.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	h.Set(HeaderSource, source)
	w.WriteHeader(e.Status)
	w.Write(e.Body)
	in.served(source)
}

func (in *Intermediary) writeSynthetic(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set(HeaderSource, SourceSynthetic)
	w.WriteHeader(http.StatusRequestTimeout)
	io.WriteString(w, syntheticBody)
	in.served(SourceSynthetic)
}

func (in *Intermediary) served(source string) {
	if in.observer != nil {
		in.observer.EdgeServed(source)
	}
}

// fetch sends one request to the origin and buffers the response.
func (in *Intermediary) fetch(ctx context.Context, method, uri string, header http.Header, body io.Reader) (Entry, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing request URI %q: %w", uri, err)
	}
	target := in.origin.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return Entry{}, fmt.Errorf("creating origin request: %w", err)
	}
	for k, vs := range header {
		req.Header[k] = append([]string(nil), vs...)
	}
	for _, k := range hopHeaders {
		req.Header.Del(k)
	}

	resp, err := in.client.Do(req)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: reading body: %v", ErrNetwork, err)
	}
	if len(data) > maxBodyBytes {
		return Entry{}, fmt.Errorf("response for %s exceeds %d bytes", uri, maxBodyBytes)
	}

	h := resp.Header.Clone()
	for _, k := range hopHeaders {
		h.Del(k)
	}
	return Entry{Key: cacheKey(method, uri), Status: resp.StatusCode, Header: h, Body: data, StoredAt: in.now()}, nil
}

// refresh fetches route and stores it. Concurrent refreshes of one route
// share a single origin request.
func (in *Intermediary) refresh(ctx context.Context, route string) error {
	key := cacheKey(http.MethodGet, route)
	_, err, _ := in.refreshes.Do(key, func() (any, error) {
		e, err := in.fetch(ctx, http.MethodGet, route, nil, nil)
		if err != nil {
			return nil, err
		}
		if e.Status < 200 || e.Status >= 300 {
			return nil, fmt.Errorf("%s returned HTTP %d", route, e.Status)
		}
		return nil, in.cache.Put(ctx, e)
	})
	return err
}

type installedManifest struct {
	Cache       string    `json:"cache"`
	Routes      []string  `json:"routes"`
	Cached      int       `json:"cached"`
	InstalledAt time.Time `json:"installed_at"`
}

// Install warms the cache with every manifest route. Routes that fail are
// logged and skipped. Callers run it in the background.
func (in *Intermediary) Install(ctx context.Context) error {
	var cached atomic.Int32
	var g errgroup.Group
	g.SetLimit(in.installLimit)
	for _, route := range in.manifest.Routes {
		g.Go(func() error {
			if err := in.refresh(ctx, route); err != nil {
				in.logger.Warn("install: route not cached", "route", route, "error", err)
				return nil
			}
			cached.Add(1)
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	if in.kv != nil {
		rec, err := json.Marshal(installedManifest{
			Cache:       CacheName,
			Routes:      in.manifest.Routes,
			Cached:      int(cached.Load()),
			InstalledAt: in.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("encoding manifest record: %w", err)
		}
		if err := in.kv.SetKV(ctx, storage.KeyCacheManifest, string(rec)); err != nil {
			return fmt.Errorf("recording manifest: %w", err)
		}
	}

	in.installed.Store(true)
	in.logger.Info("edge cache installed", "cached", cached.Load(), "routes", len(in.manifest.Routes))
	return nil
}

// Activate takes control of every session immediately and drops entries
// left by older cache versions.
func (in *Intermediary) Activate(ctx context.Context) error {
	if p, ok := in.cache.(pruner); ok {
		n, err := p.Prune(ctx)
		if err != nil {
			return fmt.Errorf("pruning old caches: %w", err)
		}
		if n > 0 {
			in.logger.Info("pruned stale cache entries", "count", n)
		}
	}
	in.active.Store(true)
	return nil
}

// Controlling reports whether Activate has completed.
func (in *Intermediary) Controlling() bool { return in.active.Load() }

type Status struct {
	CacheName     string   `json:"cache_name"`
	Installed     bool     `json:"installed"`
	Active        bool     `json:"active"`
	CachedEntries int      `json:"cached_entries"`
	Routes        []string `json:"routes"`
	PendingSync   int      `json:"pending_sync"`
}

func (in *Intermediary) Status(ctx context.Context) (Status, error) {
	n, err := in.cache.Len(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("counting cache entries: %w", err)
	}
	st := Status{
		CacheName:     CacheName,
		Installed:     in.installed.Load(),
		Active:        in.active.Load(),
		CachedEntries: n,
		Routes:        in.manifest.Routes,
	}
	if in.jobs != nil {
		for _, tag := range in.syncTags() {
			pending, err := in.jobs.CountJobs(ctx, JobType(tag), "pending")
			if err != nil {
				return Status{}, fmt.Errorf("counting sync jobs: %w", err)
			}
			st.PendingSync += pending
		}
	}
	return st, nil
}
