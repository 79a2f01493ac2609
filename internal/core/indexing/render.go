package indexing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jinford/db-rag/internal/core/connection"
)

// RenderTableSchema はテーブル定義を埋め込み用のテキストに整形する
//
//	Table: users
//	Columns: id (integer) [PK], email (varchar), bio (text, nullable)
//	References: org_id -> orgs.id
//	Approximate rows: 1204
func RenderTableSchema(table connection.TableSchema) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Table: %s\n", table.Name))

	cols := make([]string, 0, len(table.Columns))
	for _, col := range table.Columns {
		s := fmt.Sprintf("%s (%s", col.Name, col.Type)
		if col.Nullable {
			s += ", nullable"
		}
		s += ")"
		if col.PrimaryKey {
			s += " [PK]"
		}
		cols = append(cols, s)
	}
	b.WriteString(fmt.Sprintf("Columns: %s\n", strings.Join(cols, ", ")))

	for _, fk := range table.ForeignKeys {
		b.WriteString(fmt.Sprintf("References: %s -> %s.%s\n", fk.Column, fk.RefTable, fk.RefColumn))
	}

	if table.RowCount >= 0 {
		b.WriteString(fmt.Sprintf("Approximate rows: %d\n", table.RowCount))
	}

	return strings.TrimRight(b.String(), "\n")
}

// RenderSampleRows はサンプル行を埋め込み用のテキストに整形する
// 行の出現順・カラムの定義順を保つため、出力は決定的になる
func RenderSampleRows(table connection.TableSchema, redactor *Redactor) string {
	if len(table.SampleRows) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Sample rows from %s:\n", table.Name))

	for _, row := range table.SampleRows {
		line := renderRow(table.Columns, row)
		if redactor != nil {
			line = redactor.Redact(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// renderRow は1行を「col=value」の列として整形する
// カラム定義に現れないキー（ドキュメントDBの自由フィールド等）は名前順で後置する
func renderRow(columns []connection.Column, row map[string]any) string {
	parts := make([]string, 0, len(row))
	seen := make(map[string]struct{}, len(row))

	for _, col := range columns {
		if value, ok := row[col.Name]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", col.Name, renderValue(value)))
			seen[col.Name] = struct{}{}
		}
	}

	extras := make([]string, 0)
	for key := range row {
		if _, ok := seen[key]; !ok {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	for _, key := range extras {
		parts = append(parts, fmt.Sprintf("%s=%s", key, renderValue(row[key])))
	}

	return strings.Join(parts, ", ")
}

func renderValue(value any) string {
	if value == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", value)
}
