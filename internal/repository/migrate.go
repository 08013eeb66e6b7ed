package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	batchesTable   = "batches"
	documentsTable = "batch_documents"
)

var (
	batchesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 36},
		{Name: "name", Type: field.TypeString, Size: 255, Default: ""},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "schema", Type: field.TypeJSON},
		{Name: "rows_field", Type: field.TypeString, Size: 255, Default: ""},
		{Name: "total", Type: field.TypeInt, Default: 0},
		{Name: "succeeded", Type: field.TypeInt, Default: 0},
		{Name: "failed", Type: field.TypeInt, Default: 0},
		{Name: "error_message", Type: field.TypeString, Size: 2048, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "started_at", Type: field.TypeTime, Nullable: true},
		{Name: "finished_at", Type: field.TypeTime, Nullable: true},
	}
	batchesTableDef = &schema.Table{
		Name:       batchesTable,
		Columns:    batchesColumns,
		PrimaryKey: []*schema.Column{batchesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "batches_created_at", Columns: []*schema.Column{batchesColumns[9]}},
		},
	}

	documentsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 36},
		{Name: "batch_id", Type: field.TypeString, Size: 36},
		{Name: "idx", Type: field.TypeInt},
		{Name: "label", Type: field.TypeString, Size: 1024},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "stage", Type: field.TypeString, Size: 16, Nullable: true},
		{Name: "error_message", Type: field.TypeString, Size: 2048, Nullable: true},
		{Name: "record", Type: field.TypeJSON, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	documentsTableDef = &schema.Table{
		Name:       documentsTable,
		Columns:    documentsColumns,
		PrimaryKey: []*schema.Column{documentsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{{
			Symbol:     "batch_documents_batches_documents",
			Columns:    []*schema.Column{documentsColumns[1]},
			RefColumns: []*schema.Column{batchesColumns[0]},
			OnDelete:   schema.Cascade,
		}},
		Indexes: []*schema.Index{
			{Name: "batch_documents_batch_id_idx", Unique: true, Columns: []*schema.Column{documentsColumns[1], documentsColumns[2]}},
		},
	}

	tables = []*schema.Table{batchesTableDef, documentsTableDef}
)

func init() {
	documentsTableDef.ForeignKeys[0].RefTable = batchesTableDef
}

// Migrate creates or updates the batch tables.
func (db *DB) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(db.Driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := m.Create(ctx, tables...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db.logger.Info("database schema up to date", "tables", len(tables))
	return nil
}
