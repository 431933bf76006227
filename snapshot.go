package vecdex

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vecdex/vecdex/blobstore"
	"github.com/vecdex/vecdex/docstore"
	"github.com/vecdex/vecdex/persistence"
)

// Blob names derived from a snapshot name.
func snapshotBlobName(name string) string { return name + ".vdx" }
func metadataBlobName(name string) string { return name + ".csv" }

// SaveSnapshot writes the index and its metadata store to a blob store under
// the given name. The index is serialized under the lock, then both blobs
// upload concurrently. Pass a nil meta to snapshot the index alone.
func (v *VectorIndex) SaveSnapshot(ctx context.Context, store blobstore.Store, name string, meta *docstore.Store) error {
	start := time.Now()

	v.mu.Lock()
	indexBlob, err := persistence.EncodeToBytes(v.backend, v.opts.compression)
	v.mu.Unlock()

	if err != nil {
		v.metrics.RecordSave(time.Since(start), err)
		v.logger.LogSnapshot(ctx, name, err)
		return fmt.Errorf("encode snapshot: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return store.Put(ctx, snapshotBlobName(name), indexBlob)
	})

	if meta != nil {
		var buf bytes.Buffer
		if _, err := meta.WriteTo(&buf); err != nil {
			v.metrics.RecordSave(time.Since(start), err)
			v.logger.LogSnapshot(ctx, name, err)
			return fmt.Errorf("encode metadata: %w", err)
		}

		g.Go(func() error {
			return store.Put(ctx, metadataBlobName(name), buf.Bytes())
		})
	}

	err = g.Wait()
	v.metrics.RecordSave(time.Since(start), err)
	v.logger.LogSnapshot(ctx, name, err)

	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot replaces the index contents, and optionally the metadata
// store, from a blob store snapshot. Both blobs download and decode before
// anything is swapped in, so a failed load leaves the previous contents
// usable.
func (v *VectorIndex) LoadSnapshot(ctx context.Context, store blobstore.Store, name string, meta *docstore.Store) error {
	start := time.Now()

	var (
		indexBlob []byte
		metaBlob  []byte
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		indexBlob, err = store.Get(gctx, snapshotBlobName(name))
		return err
	})

	if meta != nil {
		g.Go(func() error {
			var err error
			metaBlob, err = store.Get(gctx, metadataBlobName(name))
			return err
		})
	}

	err := g.Wait()
	if err == nil {
		decoded, derr := persistence.DecodeFromBytes(indexBlob)
		if derr != nil {
			err = fmt.Errorf("decode snapshot: %w", derr)
		} else if decoded.Dimension() != v.dimension {
			err = &ErrDimensionMismatch{Expected: v.dimension, Actual: decoded.Dimension()}
		} else {
			if meta != nil {
				if _, merr := meta.ReadFrom(bytes.NewReader(metaBlob)); merr != nil {
					err = fmt.Errorf("decode metadata: %w", merr)
				}
			}

			if err == nil {
				v.mu.Lock()
				v.backend = decoded
				v.accelerated = false
				v.known.Clear()
				for _, id := range decoded.IDs() {
					v.known.Add(id)
				}
				if v.opts.accelerate {
					v.tryAccelerate(ctx)
				}
				v.mu.Unlock()
			}
		}
	}

	v.metrics.RecordLoad(time.Since(start), err)
	v.logger.LogSnapshot(ctx, name, err)

	return err
}
