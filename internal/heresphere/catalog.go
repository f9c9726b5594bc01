package heresphere

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"jellyvr/internal/jellyfin"
	"jellyvr/internal/logging"
	"jellyvr/internal/store"
)

// cachedCatalog is the per-user document stored in hs_index: the library
// listing plus the bulk scan, built in one upstream pass.
type cachedCatalog struct {
	Library Library `json:"library"`
	Scan    Scan    `json:"scan"`
}

// Catalog serves HereSphere documents out of the store cache, rebuilding from
// Jellyfin when the cache is cold or past its TTL. A library change reported
// over the Jellyfin socket invalidates every cached copy.
type Catalog struct {
	store *store.Store
	jf    *jellyfin.Client
	tr    *Translator
	ttl   time.Duration
	now   func() time.Time
}

func NewCatalog(st *store.Store, jf *jellyfin.Client, tr *Translator, ttl time.Duration) *Catalog {
	return &Catalog{store: st, jf: jf, tr: tr, ttl: ttl, now: time.Now}
}

// Index returns the authenticated library listing for a session.
func (c *Catalog) Index(ctx context.Context, host string, sess *store.Session) (Index, error) {
	cat, err := c.catalog(ctx, host, sess)
	if err != nil {
		return Index{}, err
	}
	return Index{Access: 1, Library: []Library{cat.Library}}, nil
}

// Scan returns the bulk metadata document for a session.
func (c *Catalog) Scan(ctx context.Context, host string, sess *store.Session) (Scan, error) {
	cat, err := c.catalog(ctx, host, sess)
	if err != nil {
		return Scan{}, err
	}
	return cat.Scan, nil
}

// Video returns the cached detail document for one item, priming the cache
// on a miss. The caller decorates the result with media-source and event
// wiring before responding.
func (c *Catalog) Video(ctx context.Context, host string, sess *store.Session, itemID string) (*VideoData, error) {
	payload, err := c.store.GetVideo(sess.JellyfinUserID, itemID)
	if errors.Is(err, store.ErrNotFound) {
		if _, err := c.catalog(ctx, host, sess); err != nil {
			return nil, err
		}
		payload, err = c.store.GetVideo(sess.JellyfinUserID, itemID)
	}
	if err != nil {
		return nil, err
	}
	var v VideoData
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Refresh rebuilds an item's detail document straight from upstream, for
// callers that need fresh metadata rather than the cached copy.
func (c *Catalog) Refresh(ctx context.Context, sess *store.Session, itemID string) (*VideoData, *jellyfin.Item, error) {
	it, err := c.jf.Item(ctx, sess.AccessToken, sess.JellyfinUserID, itemID)
	if err != nil {
		return nil, nil, err
	}
	v := c.tr.Video(sess.AccessToken, it)
	if payload, err := json.Marshal(v); err == nil {
		if err := c.store.PutVideo(sess.JellyfinUserID, itemID, payload, c.now().UTC()); err != nil {
			logging.Warn("caching video failed", "item_id", itemID, "error", err)
		}
	}
	return &v, it, nil
}

// Invalidate drops all cached documents.
func (c *Catalog) Invalidate() {
	if err := c.store.InvalidateIndexes(); err != nil {
		logging.Warn("catalog invalidate failed", "error", err)
	}
}

func (c *Catalog) catalog(ctx context.Context, host string, sess *store.Session) (*cachedCatalog, error) {
	payload, updatedAt, err := c.store.GetIndex(sess.JellyfinUserID)
	if err == nil && c.now().Sub(updatedAt) < c.ttl {
		var cat cachedCatalog
		if err := json.Unmarshal(payload, &cat); err == nil {
			return &cat, nil
		}
		logging.Warn("corrupt cached index, rebuilding", "user_id", sess.JellyfinUserID)
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return c.rebuild(ctx, host, sess)
}

func (c *Catalog) rebuild(ctx context.Context, host string, sess *store.Session) (*cachedCatalog, error) {
	items, err := c.jf.UserItems(ctx, sess.AccessToken, sess.JellyfinUserID)
	if err != nil {
		return nil, err
	}

	cat := &cachedCatalog{
		Library: c.tr.Library("Library", host, items),
		Scan:    Scan{ScanData: make([]ScanData, 0, len(items))},
	}
	at := c.now().UTC()
	for i := range items {
		it := &items[i]
		if !Usable(it) {
			continue
		}
		cat.Scan.ScanData = append(cat.Scan.ScanData, c.tr.ScanEntry(host, sess.AccessToken, it))

		v := c.tr.Video(sess.AccessToken, it)
		payload, err := json.Marshal(v)
		if err != nil {
			continue
		}
		if err := c.store.PutVideo(sess.JellyfinUserID, it.Id, payload, at); err != nil {
			logging.Warn("caching video failed", "item_id", it.Id, "error", err)
		}
	}

	payload, err := json.Marshal(cat)
	if err != nil {
		return nil, err
	}
	if err := c.store.PutIndex(sess.JellyfinUserID, payload, at); err != nil {
		logging.Warn("caching index failed", "error", err)
	}
	logging.Info("rebuilt library index", "user_id", sess.JellyfinUserID, "items", len(cat.Scan.ScanData))
	return cat, nil
}
