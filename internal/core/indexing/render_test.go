package indexing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jinford/db-rag/internal/core/connection"
)

func TestRenderTableSchema(t *testing.T) {
	t.Run("カラムとPKと行数を含む", func(t *testing.T) {
		table := connection.TableSchema{
			Name: "users",
			Columns: []connection.Column{
				{Name: "id", Type: "integer", PrimaryKey: true},
				{Name: "email", Type: "varchar"},
				{Name: "bio", Type: "text", Nullable: true},
			},
			RowCount: 1204,
		}

		got := RenderTableSchema(table)
		want := "Table: users\n" +
			"Columns: id (integer) [PK], email (varchar), bio (text, nullable)\n" +
			"Approximate rows: 1204"
		assert.Equal(t, want, got)
	})

	t.Run("外部キーを含む", func(t *testing.T) {
		table := connection.TableSchema{
			Name: "orders",
			Columns: []connection.Column{
				{Name: "id", Type: "integer", PrimaryKey: true},
				{Name: "user_id", Type: "integer"},
			},
			ForeignKeys: []connection.ForeignKey{
				{Column: "user_id", RefTable: "users", RefColumn: "id"},
			},
			RowCount: -1,
		}

		got := RenderTableSchema(table)
		assert.Contains(t, got, "References: user_id -> users.id")
		assert.NotContains(t, got, "Approximate rows")
	})
}

func TestRenderSampleRows(t *testing.T) {
	table := connection.TableSchema{
		Name: "users",
		Columns: []connection.Column{
			{Name: "id", Type: "integer", PrimaryKey: true},
			{Name: "email", Type: "varchar"},
		},
		SampleRows: []map[string]any{
			{"id": int64(1), "email": "alice@example.com"},
			{"id": int64(2), "email": nil},
		},
	}

	t.Run("マスク有効", func(t *testing.T) {
		got := RenderSampleRows(table, NewRedactor(true))
		want := "Sample rows from users:\n" +
			"id=1, email=[redacted]\n" +
			"id=2, email=NULL"
		assert.Equal(t, want, got)
	})

	t.Run("マスク無効", func(t *testing.T) {
		got := RenderSampleRows(table, NewRedactor(false))
		assert.Contains(t, got, "alice@example.com")
	})

	t.Run("サンプルなしは空文字", func(t *testing.T) {
		empty := connection.TableSchema{Name: "empty"}
		assert.Equal(t, "", RenderSampleRows(empty, nil))
	})

	t.Run("カラム定義にないキーは名前順で後置", func(t *testing.T) {
		doc := connection.TableSchema{
			Name: "events",
			SampleRows: []map[string]any{
				{"zeta": 1, "alpha": 2},
			},
		}
		got := RenderSampleRows(doc, nil)
		assert.Equal(t, "Sample rows from events:\nalpha=2, zeta=1", got)
	})
}
