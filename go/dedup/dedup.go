// Package dedup decides whether candidate bytes already exist in the object
// store, using a hashcache.Cache so the decision costs one hash plus one map
// lookup instead of a store round trip per existing object.
package dedup

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/stable-delusion/imagestore/go/digest"
	"github.com/stable-delusion/imagestore/go/gcs"
	"github.com/stable-delusion/imagestore/go/hashcache"
	"github.com/stable-delusion/imagestore/go/skerr"
	"github.com/stable-delusion/imagestore/go/sklog"
	"github.com/stable-delusion/imagestore/go/upload"
)

// StoreWriteError means the object write did not complete; the cache was not
// touched, so the failed key cannot be returned by later lookups.
type StoreWriteError struct {
	Key string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("writing object %q: %s", e.Key, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// Deduplicator owns one hashcache.Cache for one store prefix. It is safe for
// concurrent use; the cache serializes all index access internally.
//
// The check-then-act sequence in Submit (lookup, write, record) is not atomic
// across the store write. Two concurrent submissions of identical new content
// can therefore both write; the cache converges to exactly one canonical key
// and the spare copy is reclaimable via Sweep. Uploads are interactive, so
// this rare window is accepted instead of a write-side lock.
type Deduplicator struct {
	client gcs.GCSClient
	cache  *hashcache.Cache
	prefix string
}

// New returns a Deduplicator writing under prefix. The cache must belong to
// the same client and prefix.
func New(client gcs.GCSClient, cache *hashcache.Cache, prefix string) *Deduplicator {
	return &Deduplicator{
		client: client,
		cache:  cache,
		prefix: prefix,
	}
}

// Cache returns the hash cache this Deduplicator consults.
func (d *Deduplicator) Cache() *hashcache.Cache {
	return d.cache
}

// Submit stores b under the prefix as name, unless byte-identical content
// already exists, in which case nothing is written and the existing key is
// reported. The cache entry is recorded only after the write has durably
// completed.
func (d *Deduplicator) Submit(ctx context.Context, b []byte, name string) (upload.Outcome, error) {
	if !d.cache.Built() {
		return upload.Outcome{}, skerr.Wrap(&hashcache.StoreUnavailableError{})
	}
	fp, err := digest.FromBytes(b)
	if err != nil {
		return upload.Outcome{}, skerr.Wrap(err)
	}
	if key, ok := d.cache.Lookup(fp); ok {
		sklog.Infof("Deduplicated %q: identical content already stored as gs://%s/%s", name, d.client.Bucket(), key)
		return upload.Outcome{
			Kind:   upload.Deduplicated,
			Key:    key,
			Digest: fp,
		}, nil
	}

	key := d.disambiguate(d.prefix + name)
	opts := gcs.FileWriteOptions{
		ContentType: http.DetectContentType(b),
		Metadata:    map[string]string{digest.MetadataKey: string(fp)},
	}
	if err := d.client.SetFileContents(ctx, key, opts, b); err != nil {
		return upload.Outcome{}, skerr.Wrap(&StoreWriteError{Key: key, Err: err})
	}
	d.cache.Record(key, fp, int64(len(b)))
	sklog.Infof("Stored %d bytes as gs://%s/%s (digest %s)", len(b), d.client.Bucket(), key, fp)
	return upload.Outcome{
		Kind:   upload.Stored,
		Key:    key,
		Digest: fp,
	}, nil
}

// disambiguate returns key if it is free, otherwise the first variant
// base_N.ext not already present in the cache. Colliding keys hold different
// content by construction: identical content would have hit the reverse
// index before we got here.
func (d *Deduplicator) disambiguate(key string) string {
	if !d.cache.Has(key) {
		return key
	}
	ext := path.Ext(key)
	base := strings.TrimSuffix(key, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if !d.cache.Has(candidate) {
			return candidate
		}
	}
}
