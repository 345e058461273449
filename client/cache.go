package client

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
)

const (
	// CacheVersion is bumped whenever the persisted layout changes; older files are discarded.
	CacheVersion = 1

	defaultMaxSeen = 2000
)

type cacheFile struct {
	Version int      `json:"version"`
	Owner   string   `json:"owner"`
	Seen    []string `json:"seen"` // oldest first
}

// Cache is the client-side record of notifications already surfaced to the user.
// It only suppresses duplicate toasts; unread counts always come from the records themselves.
type Cache struct {
	mu      sync.Mutex
	path    string
	owner   string
	maxSeen int
	seen    map[string]struct{}
	order   []string
	records map[string]notification.View
}

// OpenCache loads the cache persisted at `path` for `owner`. A missing file, another owner or
// another version start from an empty set. An empty path keeps the cache in memory.
func OpenCache(path string, owner core.Identity) (*Cache, error) {
	c := &Cache{
		path:    path,
		owner:   core.CleanString(owner.Email, true /* lower */),
		maxSeen: defaultMaxSeen,
		seen:    make(map[string]struct{}),
		records: make(map[string]notification.View),
	}
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, errors.Wrap(err, "reading cache")
	}
	var f cacheFile
	if err = json.Unmarshal(data, &f); err != nil || f.Version != CacheVersion || f.Owner != c.owner {
		return c, nil
	}
	for _, id := range f.Seen {
		c.markSeen(id)
	}
	return c, nil
}

func (c *Cache) markSeen(id string) bool {
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	if len(c.order) > c.maxSeen {
		drop := len(c.order) - c.maxSeen
		for _, old := range c.order[:drop] {
			delete(c.seen, old)
		}
		c.order = append([]string(nil), c.order[drop:]...)
	}
	return true
}

// Merge folds pushed or listed records into the cache and returns the ones to surface:
// unread records whose id was never seen. Known ids are updated silently.
func (c *Cache) Merge(views ...notification.View) ([]notification.View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.merge(views)
}

func (c *Cache) merge(views []notification.View) ([]notification.View, error) {
	var fresh []notification.View
	changed := false
	for _, v := range views {
		c.records[v.ID] = v
		if c.markSeen(v.ID) {
			changed = true
			if !v.Read {
				fresh = append(fresh, v)
			}
		}
	}
	if changed {
		if err := c.save(); err != nil {
			return fresh, err
		}
	}
	return fresh, nil
}

// Reconcile replaces the held records with the authoritative listing, then merges it.
func (c *Cache) Reconcile(lst notification.Listing) ([]notification.View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]notification.View, len(lst.Notifications))
	return c.merge(lst.Notifications)
}

// Remove forgets a deleted record. Its id stays seen.
func (c *Cache) Remove(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.records, id)
	}
}

// Clear forgets every held record.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]notification.View)
}

// Seen reports whether `id` was already surfaced.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[id]
	return ok
}

// Records returns the held records, newest first.
func (c *Cache) Records() []notification.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	views := make([]notification.View, 0, len(c.records))
	for _, v := range c.records {
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].ID > views[j].ID
		}
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views
}

// UnreadCount recomputes the badge from the held records.
func (c *Cache) UnreadCount() int {
	return UnreadCount(c.Records())
}

// UnreadCount counts the unread records of `views`.
func UnreadCount(views []notification.View) int {
	n := 0
	for _, v := range views {
		if !v.Read {
			n++
		}
	}
	return n
}

// save writes the seen set atomically next to its final location.
func (c *Cache) save() error {
	if c.path == "" {
		return nil
	}
	data, err := json.Marshal(cacheFile{Version: CacheVersion, Owner: c.owner, Seen: c.order})
	if err != nil {
		return errors.Wrap(err, "marshalling cache")
	}

	dir := filepath.Dir(c.path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "creating cache dir")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*")
	if err != nil {
		return errors.Wrap(err, "creating cache file")
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "writing cache")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "closing cache file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), c.path), "replacing cache")
}
