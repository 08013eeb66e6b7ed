package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/schema-extractor/constants"
	"github.com/joseph-ayodele/schema-extractor/internal/common"
	"github.com/joseph-ayodele/schema-extractor/internal/entity"
	"github.com/joseph-ayodele/schema-extractor/internal/pipeline"
	"github.com/joseph-ayodele/schema-extractor/internal/record"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, Config{DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))
	return db
}

func labeled(t *testing.T, label, company string) record.Labeled {
	t.Helper()
	rec, err := record.NewValidator(schema.Default()).ValidateJSON([]byte(
		`{"company":"` + company + `","address":"1 Road","total_sum":30,"items":[{"item":"Bolt","unit_price":10,"quantity":3,"sum":30}]}`))
	require.NoError(t, err)
	return record.Labeled{Label: label, Record: rec}
}

func TestOpenSQLiteAndHealthCheck(t *testing.T) {
	db := openTestDB(t)
	assert.Equal(t, "sqlite3", db.Dialect())
	assert.Nil(t, db.Pool)
	assert.NoError(t, db.HealthCheck(context.Background(), time.Second))
	// idempotent
	assert.NoError(t, db.Migrate(context.Background()))
}

func TestIsSQLite(t *testing.T) {
	assert.True(t, isSQLite(":memory:"))
	assert.True(t, isSQLite("sqlite:///tmp/runs.db"))
	assert.True(t, isSQLite("file:runs?mode=memory"))
	assert.True(t, isSQLite("runs.db"))
	assert.False(t, isSQLite("postgres://localhost/extract"))
}

func TestBatchLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewBatchRepository(openTestDB(t), nil)

	b := &entity.Batch{Name: "march invoices", Fields: schema.Default(), RowsField: "items", Total: 3}
	require.NoError(t, repo.Create(ctx, b))
	require.NotEqual(t, uuid.Nil, b.ID)

	got, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusQueued, got.Status)
	assert.Equal(t, "march invoices", got.Name)
	assert.Equal(t, schema.Default(), got.Fields)
	assert.Nil(t, got.StartedAt)

	require.NoError(t, repo.MarkRunning(ctx, b.ID))
	got, err = repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	started := time.Now().UTC().Add(-time.Minute)
	res := &pipeline.BatchResult{
		ID:      b.ID,
		Fields:  schema.Default(),
		Records: []record.Labeled{labeled(t, "a.pdf", "Acme"), labeled(t, "c.pdf", "Initech")},
		Failures: []*pipeline.DocumentError{
			{Index: 1, Label: "b.pdf", Stage: pipeline.StageValidate, Err: errors.New("missing field total_sum")},
		},
		Total:      3,
		StartedAt:  started,
		FinishedAt: started.Add(30 * time.Second),
	}
	require.NoError(t, repo.RecordBatch(ctx, res))

	got, err = repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusPartial, got.Status)
	assert.Equal(t, "march invoices", got.Name, "name survives the upsert")
	assert.Equal(t, "items", got.RowsField)
	assert.Equal(t, 2, got.Succeeded)
	assert.Equal(t, 1, got.Failed)
	require.NotNil(t, got.FinishedAt)

	docs, err := repo.ListDocuments(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "a.pdf", docs[0].Label)
	assert.Equal(t, constants.DocumentStatusOK, docs[0].Status)
	assert.JSONEq(t, `{"company":"Acme","address":"1 Road","total_sum":30,"items":[{"item":"Bolt","unit_price":10,"quantity":3,"sum":30}]}`, string(docs[0].Record))
	assert.Equal(t, "b.pdf", docs[1].Label)
	assert.Equal(t, constants.DocumentStatusFailed, docs[1].Status)
	require.NotNil(t, docs[1].Stage)
	assert.Equal(t, "validate", *docs[1].Stage)
	assert.Empty(t, docs[1].Record)
	assert.Equal(t, "c.pdf", docs[2].Label)
	assert.Equal(t, 2, docs[2].Index)

	// recording again replaces the documents
	require.NoError(t, repo.RecordBatch(ctx, res))
	docs, err = repo.ListDocuments(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestRecordBatchWithoutCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewBatchRepository(openTestDB(t), nil)

	res := &pipeline.BatchResult{
		ID:         uuid.New(),
		Fields:     schema.Default(),
		Total:      1,
		Cancelled:  true,
		Failures:   []*pipeline.DocumentError{{Index: 0, Label: "a.pdf", Stage: pipeline.StageCancelled, Err: context.Canceled}},
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.RecordBatch(ctx, res))

	got, err := repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusCancelled, got.Status)
	require.NotNil(t, got.ErrorMessage)
}

func TestFailAndNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewBatchRepository(openTestDB(t), nil)

	_, err := repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, repo.MarkRunning(ctx, uuid.New()), common.ErrNotFound)

	b := &entity.Batch{Fields: schema.Default(), Total: 1}
	require.NoError(t, repo.Create(ctx, b))
	require.NoError(t, repo.Fail(ctx, b.ID, "queue full"))
	got, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "queue full", *got.ErrorMessage)
}

func TestListRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewBatchRepository(openTestDB(t), nil)

	base := time.Now().UTC().Add(-time.Hour)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		b := &entity.Batch{Fields: schema.Default(), CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, repo.Create(ctx, b))
		ids = append(ids, b.ID)
	}

	recent, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, ids[1], recent[1].ID)
}
