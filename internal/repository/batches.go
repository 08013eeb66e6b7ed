package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/schema-extractor/constants"
	"github.com/joseph-ayodele/schema-extractor/internal/common"
	"github.com/joseph-ayodele/schema-extractor/internal/entity"
	"github.com/joseph-ayodele/schema-extractor/internal/pipeline"
)

type BatchRepository interface {
	Create(ctx context.Context, b *entity.Batch) error
	MarkRunning(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, message string) error
	RecordBatch(ctx context.Context, res *pipeline.BatchResult) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Batch, error)
	ListDocuments(ctx context.Context, batchID uuid.UUID) ([]*entity.BatchDocument, error)
	ListRecent(ctx context.Context, limit int) ([]*entity.Batch, error)
}

type batchRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewBatchRepository(db *DB, log *slog.Logger) BatchRepository {
	if log == nil {
		log = slog.Default()
	}
	return &batchRepo{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

var batchColumns = []string{
	"id", "name", "status", "schema", "rows_field", "total", "succeeded", "failed",
	"error_message", "created_at", "started_at", "finished_at",
}

var documentColumns = []string{
	"id", "batch_id", "idx", "label", "status", "stage", "error_message", "record", "created_at",
}

func (r *batchRepo) builder() *entsql.DialectBuilder { return entsql.Dialect(r.db.Dialect()) }

// Create inserts a queued batch. A zero ID is replaced with a new one.
func (r *batchRepo) Create(ctx context.Context, b *entity.Batch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = constants.BatchStatusQueued
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = r.now()
	}
	schemaJSON, err := json.Marshal(b.Fields)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}

	q, args := r.builder().Insert(batchesTable).
		Columns(batchColumns...).
		Values(b.ID.String(), b.Name, string(b.Status), string(schemaJSON), b.RowsField,
			b.Total, b.Succeeded, b.Failed, b.ErrorMessage, b.CreatedAt, b.StartedAt, b.FinishedAt).
		Query()
	if err := r.db.Driver.Exec(ctx, q, args, nil); err != nil {
		r.log.Error("batch create failed", "batch_id", b.ID, "err", err)
		return common.WrapError(errors.Join(common.ErrDatabase, err), "create batch")
	}
	r.log.Info("batch created", "batch_id", b.ID, "status", b.Status, "total", b.Total)
	return nil
}

func (r *batchRepo) MarkRunning(ctx context.Context, id uuid.UUID) error {
	q, args := r.builder().Update(batchesTable).
		Set("status", string(constants.BatchStatusRunning)).
		Set("started_at", r.now()).
		Where(entsql.EQ("id", id.String())).
		Query()
	return r.update(ctx, id, q, args)
}

func (r *batchRepo) Fail(ctx context.Context, id uuid.UUID, message string) error {
	q, args := r.builder().Update(batchesTable).
		Set("status", string(constants.BatchStatusFailed)).
		Set("error_message", truncate(message, 2048)).
		Set("finished_at", r.now()).
		Where(entsql.EQ("id", id.String())).
		Query()
	if err := r.update(ctx, id, q, args); err != nil {
		return err
	}
	r.log.Warn("batch finished (FAILED)", "batch_id", id, "error", message)
	return nil
}

func (r *batchRepo) update(ctx context.Context, id uuid.UUID, q string, args []any) error {
	var res sql.Result
	if err := r.db.Driver.Exec(ctx, q, args, &res); err != nil {
		r.log.Error("batch update failed", "batch_id", id, "err", err)
		return common.WrapError(errors.Join(common.ErrDatabase, err), "update batch")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("batch %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// RecordBatch upserts the batch row and replaces its documents with the outcome of res.
func (r *batchRepo) RecordBatch(ctx context.Context, res *pipeline.BatchResult) (err error) {
	schemaJSON, err := json.Marshal(res.Fields)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	var errMsg *string
	if res.Cancelled {
		msg := "batch cancelled"
		errMsg = &msg
	}
	startedAt, finishedAt := res.StartedAt, res.FinishedAt

	tx, err := r.db.Driver.Tx(ctx)
	if err != nil {
		return common.WrapError(errors.Join(common.ErrDatabase, err), "begin tx")
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				r.log.Error("rollback failed", "batch_id", res.ID, "err", rerr)
			}
		}
	}()

	q, args := r.builder().Insert(batchesTable).
		Columns(batchColumns...).
		Values(res.ID.String(), "", string(res.Status()), string(schemaJSON), "",
			res.Total, len(res.Records), len(res.Failures), errMsg, startedAt, &startedAt, &finishedAt).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("status")
				u.SetExcluded("total")
				u.SetExcluded("succeeded")
				u.SetExcluded("failed")
				u.SetExcluded("error_message")
				u.SetExcluded("started_at")
				u.SetExcluded("finished_at")
			}),
		).
		Query()
	if err = tx.Exec(ctx, q, args, nil); err != nil {
		r.log.Error("batch upsert failed", "batch_id", res.ID, "err", err)
		return common.WrapError(errors.Join(common.ErrDatabase, err), "record batch")
	}

	dq, dargs := r.builder().Delete(documentsTable).Where(entsql.EQ("batch_id", res.ID.String())).Query()
	if err = tx.Exec(ctx, dq, dargs, nil); err != nil {
		return common.WrapError(errors.Join(common.ErrDatabase, err), "clear batch documents")
	}

	docs, err := r.documentRows(res)
	if err != nil {
		return err
	}
	if len(docs) > 0 {
		ins := r.builder().Insert(documentsTable).Columns(documentColumns...)
		for _, d := range docs {
			ins.Values(d...)
		}
		iq, iargs := ins.Query()
		if err = tx.Exec(ctx, iq, iargs, nil); err != nil {
			r.log.Error("batch documents insert failed", "batch_id", res.ID, "err", err)
			return common.WrapError(errors.Join(common.ErrDatabase, err), "record batch documents")
		}
	}

	if err = tx.Commit(); err != nil {
		return common.WrapError(errors.Join(common.ErrDatabase, err), "commit")
	}
	r.log.Info("batch recorded", "batch_id", res.ID, "status", res.Status(),
		"succeeded", len(res.Records), "failed", len(res.Failures))
	return nil
}

// documentRows merges records and failures back into input order. Records carry no
// index, so they fill the positions the failures leave free.
func (r *batchRepo) documentRows(res *pipeline.BatchResult) ([][]any, error) {
	failed := make(map[int]*pipeline.DocumentError, len(res.Failures))
	for _, f := range res.Failures {
		failed[f.Index] = f
	}
	total := res.Total
	if n := len(res.Records) + len(res.Failures); n > total {
		total = n
	}

	now := r.now()
	rows := make([][]any, 0, total)
	next := 0
	for i := 0; i < total; i++ {
		if f, ok := failed[i]; ok {
			stage := string(f.Stage)
			msg := truncate(f.Err.Error(), 2048)
			rows = append(rows, []any{uuid.NewString(), res.ID.String(), i, f.Label,
				string(constants.DocumentStatusFailed), &stage, &msg, nil, now})
			continue
		}
		if next >= len(res.Records) {
			continue
		}
		l := res.Records[next]
		next++
		data, err := json.Marshal(l.Record)
		if err != nil {
			return nil, fmt.Errorf("encode record %q: %w", l.Label, err)
		}
		rows = append(rows, []any{uuid.NewString(), res.ID.String(), i, l.Label,
			string(constants.DocumentStatusOK), nil, nil, string(data), now})
	}
	return rows, nil
}

func (r *batchRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Batch, error) {
	q, args := r.builder().Select(batchColumns...).
		From(entsql.Table(batchesTable)).
		Where(entsql.EQ("id", id.String())).
		Query()
	batches, err := r.queryBatches(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("batch %s: %w", id, common.ErrNotFound)
	}
	return batches[0], nil
}

func (r *batchRepo) ListRecent(ctx context.Context, limit int) ([]*entity.Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	q, args := r.builder().Select(batchColumns...).
		From(entsql.Table(batchesTable)).
		OrderBy(entsql.Desc("created_at")).
		Limit(limit).
		Query()
	return r.queryBatches(ctx, q, args)
}

func (r *batchRepo) ListDocuments(ctx context.Context, batchID uuid.UUID) ([]*entity.BatchDocument, error) {
	q, args := r.builder().Select(documentColumns...).
		From(entsql.Table(documentsTable)).
		Where(entsql.EQ("batch_id", batchID.String())).
		OrderBy(entsql.Asc("idx")).
		Query()

	var rows entsql.Rows
	if err := r.db.Driver.Query(ctx, q, args, &rows); err != nil {
		return nil, common.WrapError(errors.Join(common.ErrDatabase, err), "list batch documents")
	}
	defer rows.Close()

	var out []*entity.BatchDocument
	for rows.Next() {
		var (
			d               entity.BatchDocument
			id, bid, status string
			stage, msg      sql.NullString
			rec             []byte
		)
		if err := rows.Scan(&id, &bid, &d.Index, &d.Label, &status, &stage, &msg, &rec, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan batch document: %w", err)
		}
		var err error
		if d.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse document id: %w", err)
		}
		if d.BatchID, err = uuid.Parse(bid); err != nil {
			return nil, fmt.Errorf("parse batch id: %w", err)
		}
		d.Status = constants.DocumentStatus(status)
		d.Stage = nullString(stage)
		d.ErrorMessage = nullString(msg)
		if len(rec) > 0 {
			d.Record = json.RawMessage(rec)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *batchRepo) queryBatches(ctx context.Context, q string, args []any) ([]*entity.Batch, error) {
	var rows entsql.Rows
	if err := r.db.Driver.Query(ctx, q, args, &rows); err != nil {
		return nil, common.WrapError(errors.Join(common.ErrDatabase, err), "query batches")
	}
	defer rows.Close()

	var out []*entity.Batch
	for rows.Next() {
		var (
			b                 entity.Batch
			id, status        string
			schemaJSON        []byte
			msg               sql.NullString
			started, finished sql.NullTime
		)
		if err := rows.Scan(&id, &b.Name, &status, &schemaJSON, &b.RowsField, &b.Total, &b.Succeeded,
			&b.Failed, &msg, &b.CreatedAt, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		var err error
		if b.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse batch id: %w", err)
		}
		if err := json.Unmarshal(schemaJSON, &b.Fields); err != nil {
			return nil, fmt.Errorf("decode schema of batch %s: %w", id, err)
		}
		b.Status = constants.BatchStatus(status)
		b.ErrorMessage = nullString(msg)
		if started.Valid {
			b.StartedAt = &started.Time
		}
		if finished.Valid {
			b.FinishedAt = &finished.Time
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
