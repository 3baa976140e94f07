// Package audit appends before/after snapshots of ingested entities to the
// change log. Recording can be switched off without touching the write path.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Entity types written to the change log.
const (
	EntitySite   = "site"
	EntitySample = "sample"
	EntityAge    = "age_determination"
)

// Appender is the part of a transaction the recorder writes through.
type Appender interface {
	AppendChange(ctx context.Context, e *archive.ChangeEntry) error
}

type Recorder struct {
	enabled bool
}

func NewRecorder(enabled bool) *Recorder {
	return &Recorder{enabled: enabled}
}

func (r *Recorder) Enabled() bool { return r != nil && r.enabled }

func (r *Recorder) Created(ctx context.Context, tx Appender, entityType string, id int64, after any, batchID *uuid.UUID) error {
	return r.record(ctx, tx, archive.ChangeCreated, entityType, id, nil, after, batchID)
}

func (r *Recorder) Updated(ctx context.Context, tx Appender, entityType string, id int64, before, after any, batchID *uuid.UUID) error {
	return r.record(ctx, tx, archive.ChangeUpdated, entityType, id, before, after, batchID)
}

func (r *Recorder) record(ctx context.Context, tx Appender, kind archive.ChangeKind, entityType string, id int64, before, after any, batchID *uuid.UUID) error {
	if !r.Enabled() {
		return nil
	}
	e := &archive.ChangeEntry{
		EntityType:    entityType,
		EntityID:      id,
		ChangeKind:    kind,
		ImportBatchID: batchID,
	}
	var err error
	if e.Before, err = snapshot(before); err != nil {
		return fmt.Errorf("audit %s %d: %w", entityType, id, err)
	}
	if e.After, err = snapshot(after); err != nil {
		return fmt.Errorf("audit %s %d: %w", entityType, id, err)
	}
	if err := tx.AppendChange(ctx, e); err != nil {
		return fmt.Errorf("audit %s %d: %w", entityType, id, err)
	}
	return nil
}

func snapshot(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
