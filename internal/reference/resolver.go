package reference

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/austarch/austarch-db/internal/archive"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store is what the resolver needs from the datastore.
type Store interface {
	Source
	UpsertDataSource(ctx context.Context, ds *archive.DataSource) error
}

// Resolver is shared by all ingestion workers. The snapshot is swapped
// atomically by Refresh; data source ids are cached per fingerprint.
type Resolver struct {
	snap    atomic.Pointer[Snapshot]
	store   Store
	log     *zap.Logger
	group   singleflight.Group
	sources sync.Map // fingerprint -> int64
}

func NewResolver(snap *Snapshot, store Store, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resolver{store: store, log: log.Named("reference")}
	r.snap.Store(snap)
	return r
}

func (r *Resolver) Snapshot() *Snapshot { return r.snap.Load() }

// Refresh reloads the reference tables. Rows already resolved keep the ids
// they were given.
func (r *Resolver) Refresh(ctx context.Context) error {
	snap, err := LoadSnapshot(ctx, r.store)
	if err != nil {
		return fmt.Errorf("refresh reference data: %w", err)
	}
	r.snap.Store(snap)
	r.log.Info("Reference data refreshed")
	return nil
}

// ResolveMethod maps METHOD/TECHNIQUE text and the lab code to a dating
// method. Empty text is inferred from the lab code; text that matches no
// known method is an *archive.UnknownReferenceError.
func (r *Resolver) ResolveMethod(method, technique, labCode string) (archive.DatingMethod, error) {
	code, ok := classifyMethod(method, technique, labCode)
	if !ok {
		return archive.DatingMethod{}, &archive.UnknownReferenceError{
			Kind:  "dating method",
			Value: strings.TrimSpace(strings.TrimSpace(method) + " " + strings.TrimSpace(technique)),
		}
	}
	m, found := r.Snapshot().Method(code)
	if !found {
		return archive.DatingMethod{}, &archive.UnknownReferenceError{Kind: "dating method", Value: code}
	}
	return m, nil
}

// ResolveMaterial maps a material description to a material, trying the
// detailed description before the top-level class. matched is false when
// the result is the UNKNOWN fallback for a non-empty description.
func (r *Resolver) ResolveMaterial(desc, topLevel string) (m archive.SampleMaterial, matched bool) {
	snap := r.Snapshot()
	for _, text := range []string{desc, topLevel} {
		if code, ok := classifyMaterial(snap, text); ok {
			if m, found := snap.Material(code); found {
				return m, true
			}
		}
	}
	unknown, _ := snap.Material(UnknownMaterial)
	empty := strings.TrimSpace(desc) == "" && strings.TrimSpace(topLevel) == ""
	return unknown, empty
}

// ResolveSource returns the data source id for c, inserting it on first use.
// Concurrent calls for the same fingerprint share one insert.
func (r *Resolver) ResolveSource(ctx context.Context, c Citation) (*int64, error) {
	if c.IsEmpty() {
		return nil, nil
	}
	fp := c.Fingerprint()
	if id, ok := r.sources.Load(fp); ok {
		v := id.(int64)
		return &v, nil
	}

	v, err, _ := r.group.Do(fp, func() (any, error) {
		ds := &archive.DataSource{
			Fingerprint: fp,
			Citation:    c.String(),
			Author:      c.Author,
			Year:        c.Year,
			Title:       c.Title,
		}
		if err := r.store.UpsertDataSource(ctx, ds); err != nil {
			return nil, err
		}
		r.sources.Store(fp, ds.ID)
		return ds.ID, nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve data source: %w", err)
	}
	id := v.(int64)
	return &id, nil
}
