// Package hashcache maintains an in-memory index of the content digests of
// every object under one store prefix. With it, "does this content already
// exist anywhere in the store" is a map lookup instead of a download-and-hash
// over the whole namespace.
//
// A Cache is owned by exactly one deduplicator for one prefix. Concurrent
// users share the one instance; all map access is serialized by an internal
// mutex.
package hashcache

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/storage"

	"github.com/stable-delusion/imagestore/go/digest"
	"github.com/stable-delusion/imagestore/go/gcs"
	"github.com/stable-delusion/imagestore/go/skerr"
	"github.com/stable-delusion/imagestore/go/sklog"
)

// Entry records what the cache knows about one stored object.
type Entry struct {
	// Key is the full object path within the bucket.
	Key string
	// Digest fingerprints the object's exact bytes.
	Digest digest.Digest
	// Size is the object's size in bytes.
	Size int64
}

// StoreUnavailableError means the cache could not be built (or was never
// built), so no deduplication decision can be trusted until a Build succeeds.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	if e.Err == nil {
		return "object store unavailable: hash cache has not been built"
	}
	return fmt.Sprintf("object store unavailable: %s", e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// Cache maps store keys to digests and, in reverse, digests to the one
// canonical key per digest.
type Cache struct {
	client gcs.GCSClient
	prefix string

	mtx sync.Mutex
	// entries is the forward mapping, key -> Entry. nil until Build
	// succeeds.
	entries map[string]Entry
	// byDigest is the reverse index, digest -> canonical key. The target
	// of every reverse entry is always present in entries with that same
	// digest; Record and Invalidate maintain this.
	byDigest map[digest.Digest]string
}

// New returns an unbuilt Cache for the objects under prefix. Build must
// succeed before lookups mean anything.
func New(client gcs.GCSClient, prefix string) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
	}
}

// Build lists every object under the prefix and indexes it. The digest comes
// from the object's metadata when a previous writer recorded it there;
// otherwise the object is downloaded and hashed, and future builds are spared
// by Backfill (see the dedup package).
//
// Build is all-or-nothing: on any listing or download failure the cache stays
// unbuilt and a StoreUnavailableError is returned. Ties between keys holding
// identical content go to the key listed first, which for GCS means the
// lexicographically smallest key.
func (c *Cache) Build(ctx context.Context) error {
	entries := map[string]Entry{}
	byDigest := map[digest.Digest]string{}
	computed := 0
	err := c.client.AllFilesInDirectory(ctx, c.prefix, func(item *storage.ObjectAttrs) error {
		d := digest.Digest(item.Metadata[digest.MetadataKey])
		if !d.Valid() {
			b, err := c.client.GetFileContents(ctx, item.Name)
			if err != nil {
				return skerr.Wrapf(err, "fetching gs://%s/%s to compute its digest", c.client.Bucket(), item.Name)
			}
			d, err = digest.FromBytes(b)
			if err != nil {
				return skerr.Wrapf(err, "digesting gs://%s/%s", c.client.Bucket(), item.Name)
			}
			computed++
		}
		entries[item.Name] = Entry{
			Key:    item.Name,
			Digest: d,
			Size:   item.Size,
		}
		if _, ok := byDigest[d]; !ok {
			byDigest[d] = item.Name
		}
		return nil
	})
	if err != nil {
		return skerr.Wrap(&StoreUnavailableError{Err: err})
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.entries = entries
	c.byDigest = byDigest
	sklog.Infof("Hash cache for gs://%s/%s holds %d objects (%d unique, %d digests computed from content)",
		c.client.Bucket(), c.prefix, len(entries), len(byDigest), computed)
	return nil
}

// Built returns true once a Build has succeeded.
func (c *Cache) Built() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.entries != nil
}

// Lookup returns the canonical key currently holding content with the given
// digest, if any.
func (c *Cache) Lookup(d digest.Digest) (string, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	key, ok := c.byDigest[d]
	return key, ok
}

// Has returns true if the cache has a forward entry for key.
func (c *Cache) Has(key string) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Record notes that key now durably holds bytes with the given digest. The
// forward entry is always written. The reverse index only moves to key if
// the digest had no live canonical target: the first writer for a digest
// wins, and later identical copies stay reachable through their own forward
// entries only.
//
// Call Record only after the store write has completed; recording bytes that
// were never durably written would let a later lookup claim content the
// store does not have.
func (c *Cache) Record(key string, d digest.Digest, size int64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.entries == nil {
		// Not built; nothing to maintain.
		return
	}
	// If the key is being remapped to different content, retire any reverse
	// entry that pointed at its old digest.
	if old, ok := c.entries[key]; ok && old.Digest != d && c.byDigest[old.Digest] == key {
		delete(c.byDigest, old.Digest)
	}
	c.entries[key] = Entry{Key: key, Digest: d, Size: size}

	cur, ok := c.byDigest[d]
	if ok {
		// Leave the reverse entry alone while its target still holds this
		// digest.
		if entry, live := c.entries[cur]; live && entry.Digest == d {
			return
		}
	}
	c.byDigest[d] = key
}

// Invalidate removes the forward entry for key, e.g. after the underlying
// object was deleted. If key was the canonical target for its digest the
// reverse entry is cleared too; a later Record for any key with that digest
// re-establishes it.
func (c *Cache) Invalidate(key string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	if c.byDigest[entry.Digest] == key {
		delete(c.byDigest, entry.Digest)
	}
}

// Len returns the number of indexed objects.
func (c *Cache) Len() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.entries)
}

// Snapshot returns a copy of all forward entries. The copy is not kept in
// sync with later mutations.
func (c *Cache) Snapshot() []Entry {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	ret := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		ret = append(ret, entry)
	}
	return ret
}
