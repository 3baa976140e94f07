package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/austarch/austarch-db/internal/audit"
	"github.com/austarch/austarch-db/internal/metrics"
	"github.com/austarch/austarch-db/internal/quality"
	"github.com/austarch/austarch-db/internal/reference"
	"github.com/austarch/austarch-db/internal/retry"
	"github.com/austarch/austarch-db/internal/sites"
	"github.com/austarch/austarch-db/internal/source"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Options struct {
	// Workers is the number of rows written concurrently.
	Workers int
	// Strict turns unknown columns into file errors and an unknown dating
	// method into a batch abort.
	Strict bool
	// SkipExisting skips rows whose lab code is already stored.
	SkipExisting bool
	// RowsPerSecond caps row transactions; 0 means unlimited.
	RowsPerSecond float64
	Retry         retry.Config
	// LogRowWarnings is how many row issues are logged at Warn level.
	LogRowWarnings int
	SourceURL      string
}

func DefaultOptions() Options {
	return Options{
		Workers:        1,
		SkipExisting:   true,
		Retry:          retry.DefaultConfig(),
		LogRowWarnings: 20,
	}
}

// Pipeline ingests data files into the archive as one import batch.
type Pipeline struct {
	store      archive.Store
	resolver   *reference.Resolver
	geocoder   *sites.Geocoder
	classifier *quality.Classifier
	audit      *audit.Recorder
	metrics    *metrics.Ingest
	limiter    *rate.Limiter
	opts       Options
	log        *zap.Logger

	logged atomic.Int64
}

func NewPipeline(store archive.Store, resolver *reference.Resolver, geocoder *sites.Geocoder, classifier *quality.Classifier, opts Options, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	p := &Pipeline{
		store:      store,
		resolver:   resolver,
		geocoder:   geocoder,
		classifier: classifier,
		opts:       opts,
		log:        log.Named("ingest"),
	}
	if opts.RowsPerSecond > 0 {
		burst := int(opts.RowsPerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.RowsPerSecond), burst)
	}
	return p
}

// WithAudit enables change-log entries for every row written.
func (p *Pipeline) WithAudit(r *audit.Recorder) *Pipeline {
	p.audit = r
	return p
}

func (p *Pipeline) WithMetrics(m *metrics.Ingest) *Pipeline {
	p.metrics = m
	return p
}

// Run ingests inputs in order under a new import batch. Rows are committed
// one transaction each; a fatal error stops the run, keeps what was already
// committed and marks the batch failed. The report is returned in every case
// once the batch exists.
func (p *Pipeline) Run(ctx context.Context, inputs []source.Input) (*RunReport, error) {
	batch := &archive.ImportBatch{
		ID:        uuid.New(),
		SourceURL: p.opts.SourceURL,
		Status:    archive.BatchRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := p.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create import batch: %w", err)
	}
	p.logged.Store(0)
	log := p.log.With(zap.String("batch_id", batch.ID.String()))
	log.Info("Import batch started", zap.Int("files", len(inputs)), zap.Int("workers", p.opts.Workers))

	report := newRunReport(batch)
	var runErr error
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := p.runFile(ctx, batch.ID, in, report, log); err != nil {
			runErr = err
			break
		}
	}

	status := archive.BatchCompleted
	if runErr != nil {
		status = archive.BatchFailed
		report.Error = runErr.Error()
	}
	report.finish(status)

	// The batch must leave the running state even when ctx was cancelled.
	finishCtx := context.WithoutCancel(ctx)
	if err := p.store.FinishBatch(finishCtx, batch.ID, status, report.Persisted, report.Notes()); err != nil {
		log.Error("Failed to finalize import batch", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("finalize import batch: %w", err)
		}
	}
	p.metrics.Batch(string(status))

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("rows_read", report.RowsRead),
		zap.Int("persisted", report.Persisted),
		zap.Int("skipped", report.Skipped),
		zap.Int("malformed", report.Malformed),
		zap.Int("unknown_reference", report.UnknownReference),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	}
	if runErr != nil {
		log.Error("Import batch failed", append(fields, zap.Error(runErr))...)
		return report, runErr
	}
	log.Info("Import batch completed", fields...)
	return report, nil
}

// runFile returns an error only when the whole batch has to stop. Problems
// confined to the file are recorded on its FileReport.
func (p *Pipeline) runFile(ctx context.Context, batchID uuid.UUID, in source.Input, report *RunReport, log *zap.Logger) error {
	fr := report.addFile(in)
	log = log.With(zap.String("file", in.Name))

	if source.IsReferenceFile(in.Name) {
		fr.Skipped = true
		fr.Reason = "citation/reference list"
		log.Info("Skipping reference file")
		return nil
	}

	rc, err := in.Open(ctx)
	if err != nil {
		return fmt.Errorf("open %s: %w", in.Location, err)
	}
	defer rc.Close()

	rd, err := NewReader(rc, in.Name)
	if err != nil {
		fr.Skipped = true
		fr.Reason = err.Error()
		log.Error("Skipping unreadable file", zap.Error(err))
		return nil
	}
	if unknown := rd.UnknownColumns(); len(unknown) > 0 {
		fr.UnknownColumns = unknown
		if p.opts.Strict {
			fr.Skipped = true
			fr.Reason = fmt.Sprintf("unrecognized columns %v", unknown)
			log.Error("Skipping file with unrecognized columns", zap.Strings("columns", unknown))
			return nil
		}
		log.Warn("Dropping unrecognized columns", zap.Strings("columns", unknown))
	}

	rows := make(chan Row, p.opts.Workers*2)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(rows)
		for {
			row, err := rd.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			var mre *archive.MalformedRecordError
			if errors.As(err, &mre) {
				p.record(report, fr, RowResult{File: in.Name, Line: mre.Line, Status: StatusMalformed, Error: mre.Error()})
				continue
			}
			if err != nil {
				return fmt.Errorf("read %s: %w", in.Name, err)
			}
			select {
			case rows <- row:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	for i := 0; i < p.opts.Workers; i++ {
		g.Go(func() error {
			for row := range rows {
				if gctx.Err() != nil {
					return nil
				}
				res, err := p.processRow(gctx, batchID, row)
				p.record(report, fr, res)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// rowWrite collects what one row transaction did. It is reset on retry.
type rowWrite struct {
	skipped     bool
	siteCreated bool
	warnings    []string
}

// processRow returns a non-nil error only when the batch must stop.
func (p *Pipeline) processRow(ctx context.Context, batchID uuid.UUID, row Row) (RowResult, error) {
	start := time.Now()
	res := RowResult{File: row.File, Line: row.Line}
	defer func() { p.metrics.Row(res.Status, time.Since(start)) }()

	cand, warnings, err := Normalize(row)
	if err != nil {
		res.Status = StatusMalformed
		res.Error = err.Error()
		return res, nil
	}
	res.LabCode = cand.Age.LabCode
	res.Warnings = warnings

	method, err := p.resolver.ResolveMethod(cand.Age.Method, cand.Age.Technique, cand.Age.LabCode)
	if err != nil {
		var ure *archive.UnknownReferenceError
		if !errors.As(err, &ure) {
			res.Status = StatusFailed
			res.Error = err.Error()
			return res, err
		}
		res.Status = StatusUnknownReference
		res.Error = err.Error()
		if p.opts.Strict {
			return res, fmt.Errorf("%w: %s line %d: %v", archive.ErrStrictAbort, row.File, row.Line, err)
		}
		return res, nil
	}
	cand.Age.ApplyMethod(method.Category)

	material, matched := p.resolver.ResolveMaterial(cand.Sample.Material, cand.Sample.MaterialTopLevel)
	if !matched {
		res.Warnings = append(res.Warnings, fmt.Sprintf("material %q not recognized; stored as %s",
			firstNonEmpty(cand.Sample.Material, cand.Sample.MaterialTopLevel), material.Code))
	}

	var sourceID *int64
	err = retry.Do(ctx, p.opts.Retry, p.onRetry(row), func() error {
		var err error
		sourceID, err = p.resolver.ResolveSource(ctx, cand.Citation)
		return err
	})
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res, fmt.Errorf("%s line %d: resolve data source: %w", row.File, row.Line, err)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			res.Status = StatusFailed
			res.Error = err.Error()
			return res, err
		}
	}

	var w rowWrite
	err = retry.Do(ctx, p.opts.Retry, p.onRetry(row), func() error {
		w = rowWrite{}
		return p.store.RunInTx(ctx, func(tx archive.Tx) error {
			return p.write(ctx, tx, batchID, cand, method, material, sourceID, &w)
		})
	})
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res, fmt.Errorf("%s line %d: %w", row.File, row.Line, err)
	}

	res.Warnings = append(res.Warnings, w.warnings...)
	switch {
	case w.skipped:
		res.Status = StatusSkipped
	default:
		res.Status = StatusPersisted
		res.SiteCreated = w.siteCreated
		p.metrics.Site(w.siteCreated)
	}
	return res, nil
}

func (p *Pipeline) write(ctx context.Context, tx archive.Tx, batchID uuid.UUID, cand *Candidate, method archive.DatingMethod, material archive.SampleMaterial, sourceID *int64, w *rowWrite) error {
	// Lab lock before site lock, so every transaction takes them in the same order.
	if p.opts.SkipExisting {
		if err := tx.LockKey(ctx, "lab:"+cand.Age.LabCode); err != nil {
			return err
		}
		exists, err := tx.LabCodeExists(ctx, cand.Age.LabCode)
		if err != nil {
			return err
		}
		if exists {
			w.skipped = true
			return nil
		}
	}

	res, err := p.geocoder.Resolve(ctx, tx, cand.Site, &batchID)
	if err != nil {
		return fmt.Errorf("resolve site %q: %w", cand.Site.Name, err)
	}
	for _, warn := range res.Warnings {
		w.warnings = append(w.warnings, warn.Error())
	}
	site := res.Site
	w.siteCreated = res.Created
	switch {
	case res.Created:
		if err := p.audit.Created(ctx, tx, audit.EntitySite, site.ID, site, &batchID); err != nil {
			return err
		}
	case res.Changed:
		if err := p.audit.Updated(ctx, tx, audit.EntitySite, site.ID, res.Before, site, &batchID); err != nil {
			return err
		}
	}

	materialID := material.ID
	sample := &archive.Sample{
		SiteID:              site.ID,
		MaterialID:          &materialID,
		MaterialDescription: firstNonEmpty(cand.Sample.Material, cand.Sample.MaterialTopLevel),
		DepthTopCM:          cand.Sample.DepthTop,
		DepthBottomCM:       cand.Sample.DepthBottom,
		Layer:               cand.Sample.Layer,
		Context:             cand.Sample.Context,
		ImportBatchID:       &batchID,
	}
	if err := tx.CreateSample(ctx, sample); err != nil {
		return fmt.Errorf("create sample: %w", err)
	}
	if err := p.audit.Created(ctx, tx, audit.EntitySample, sample.ID, sample, &batchID); err != nil {
		return err
	}

	a := cand.Age
	assessment := p.classifier.Classify(quality.Input{
		Latitude:        site.Latitude,
		Longitude:       site.Longitude,
		LabCode:         a.LabCode,
		C14Age:          a.C14Age,
		C14Error:        a.C14Error,
		LumAgeKa:        a.LumAgeKa,
		LumErrorKa:      a.LumErrorKa,
		AgeBP:           a.AgeBP,
		CalFrom:         a.CalFrom,
		CalTo:           a.CalTo,
		SourceIssues:    a.SourceIssues,
		SourceRating:    a.Rating,
		RejectionReason: a.RejectionReason,
		Rejected:        a.Rejected,
	})
	age := &archive.AgeDetermination{
		SampleID:        sample.ID,
		LabCode:         a.LabCode,
		MethodID:        method.ID,
		C14Age:          a.C14Age,
		C14Error:        a.C14Error,
		DeltaC13:        a.DeltaC13,
		LumAgeKa:        a.LumAgeKa,
		LumErrorKa:      a.LumErrorKa,
		CalAgeBPFrom:    a.CalFrom,
		CalAgeBPTo:      a.CalTo,
		AgeBP:           a.AgeBP,
		AgeError:        a.AgeError,
		QualityRating:   assessment.Rating,
		IsRejected:      assessment.Rejected,
		RejectionReason: assessment.RejectionReason,
		QualityIssues:   pq.StringArray(assessment.Issues),
		DataSourceID:    sourceID,
		Notes:           a.Notes,
		ImportBatchID:   &batchID,
	}
	if err := tx.CreateAgeDetermination(ctx, age); err != nil {
		return fmt.Errorf("create age determination %s: %w", a.LabCode, err)
	}
	return p.audit.Created(ctx, tx, audit.EntityAge, age.ID, age, &batchID)
}

func (p *Pipeline) onRetry(row Row) func(attempt int, err error) {
	return func(attempt int, err error) {
		p.metrics.Retry()
		p.log.Warn("Retrying row after transient error",
			zap.String("file", row.File),
			zap.Int("line", row.Line),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

// record adds res to the report and logs it when it carries an issue.
func (p *Pipeline) record(report *RunReport, fr *FileReport, res RowResult) {
	report.add(fr, res)
	if res.Status == StatusPersisted && len(res.Warnings) == 0 {
		return
	}
	fields := []zap.Field{
		zap.String("file", res.File),
		zap.Int("line", res.Line),
		zap.String("status", res.Status),
	}
	if res.LabCode != "" {
		fields = append(fields, zap.String("lab_code", res.LabCode))
	}
	if len(res.Warnings) > 0 {
		fields = append(fields, zap.Strings("warnings", res.Warnings))
	}
	if res.Error != "" {
		fields = append(fields, zap.String("error", res.Error))
	}
	if n := p.logged.Add(1); n <= int64(p.opts.LogRowWarnings) {
		p.log.Warn("Row issue", fields...)
		if n == int64(p.opts.LogRowWarnings) {
			p.log.Warn("Further row issues are logged at debug level; see the run report")
		}
		return
	}
	p.log.Debug("Row issue", fields...)
}
