package dedup

import (
	"context"
	"sort"

	"cloud.google.com/go/storage"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/stable-delusion/imagestore/go/digest"
	"github.com/stable-delusion/imagestore/go/hashcache"
	"github.com/stable-delusion/imagestore/go/skerr"
	"github.com/stable-delusion/imagestore/go/sklog"
	"github.com/stable-delusion/imagestore/go/util"
)

// SweepResult reports what a Sweep accomplished.
type SweepResult struct {
	// Deleted is the number of redundant objects removed.
	Deleted int
	// FreedBytes is the total size of the removed objects.
	FreedBytes int64
}

// Sweep deletes redundant copies of content that exists under more than one
// key, keeping the canonical key per digest. Delete failures don't stop the
// sweep; they are aggregated into the returned error and the corresponding
// cache entries are kept so a later sweep can retry.
func (d *Deduplicator) Sweep(ctx context.Context) (SweepResult, error) {
	var ret SweepResult
	if !d.cache.Built() {
		return ret, skerr.Wrap(&hashcache.StoreUnavailableError{})
	}

	entries := d.cache.Snapshot()
	// Deterministic deletion order makes failures reproducible.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})

	var failures error
	for _, entry := range entries {
		canonical, ok := d.cache.Lookup(entry.Digest)
		if !ok || canonical == entry.Key {
			continue
		}
		if err := d.client.DeleteFile(ctx, entry.Key); err != nil {
			failures = multierror.Append(failures, skerr.Wrapf(err, "deleting duplicate gs://%s/%s", d.client.Bucket(), entry.Key))
			continue
		}
		d.cache.Invalidate(entry.Key)
		ret.Deleted++
		ret.FreedBytes += entry.Size
		sklog.Infof("Sweep removed gs://%s/%s, duplicate of %s", d.client.Bucket(), entry.Key, canonical)
	}
	if ret.Deleted > 0 {
		sklog.Infof("Sweep reclaimed %s across %d objects", util.BytesToHuman(ret.FreedBytes), ret.Deleted)
	}
	return ret, failures
}

// BackfillResult reports what a Backfill accomplished.
type BackfillResult struct {
	// Updated counts objects that received digest metadata.
	Updated int
	// Skipped counts objects that already had valid digest metadata.
	Skipped int
	// Failed counts objects that could not be read or updated.
	Failed int
}

// Backfill writes digest metadata onto every object under the prefix that is
// missing it, so the next cache Build can index the namespace from the
// listing alone. Individual failures are counted and aggregated; the rest of
// the namespace is still processed.
func (d *Deduplicator) Backfill(ctx context.Context) (BackfillResult, error) {
	var ret BackfillResult
	var failures error

	err := d.client.AllFilesInDirectory(ctx, d.prefix, func(item *storage.ObjectAttrs) error {
		if digest.Digest(item.Metadata[digest.MetadataKey]).Valid() {
			ret.Skipped++
			return nil
		}
		b, err := d.client.GetFileContents(ctx, item.Name)
		if err != nil {
			ret.Failed++
			failures = multierror.Append(failures, skerr.Wrapf(err, "fetching gs://%s/%s", d.client.Bucket(), item.Name))
			return nil
		}
		fp, err := digest.FromBytes(b)
		if err != nil {
			ret.Failed++
			failures = multierror.Append(failures, skerr.Wrapf(err, "digesting gs://%s/%s", d.client.Bucket(), item.Name))
			return nil
		}
		md := map[string]string{}
		for k, v := range item.Metadata {
			md[k] = v
		}
		md[digest.MetadataKey] = string(fp)
		if err := d.client.SetFileMetadata(ctx, item.Name, md); err != nil {
			ret.Failed++
			failures = multierror.Append(failures, skerr.Wrapf(err, "updating metadata of gs://%s/%s", d.client.Bucket(), item.Name))
			return nil
		}
		ret.Updated++
		if d.cache.Built() {
			d.cache.Record(item.Name, fp, item.Size)
		}
		return nil
	})
	if err != nil {
		return ret, skerr.Wrap(&hashcache.StoreUnavailableError{Err: err})
	}
	sklog.Infof("Backfill over gs://%s/%s: %d updated, %d skipped, %d failed",
		d.client.Bucket(), d.prefix, ret.Updated, ret.Skipped, ret.Failed)
	return ret, failures
}
