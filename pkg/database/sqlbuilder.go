package database

import (
	"github.com/huandu/go-sqlbuilder"
)

// All builders use the PostgreSQL flavor so placeholders render as $1..$n.

func NewInsertBuilder() *sqlbuilder.InsertBuilder {
	return sqlbuilder.PostgreSQL.NewInsertBuilder()
}

func NewUpdateBuilder() *sqlbuilder.UpdateBuilder {
	return sqlbuilder.PostgreSQL.NewUpdateBuilder()
}

func NewSelectBuilder() *sqlbuilder.SelectBuilder {
	return sqlbuilder.PostgreSQL.NewSelectBuilder()
}

func NewDeleteBuilder() *sqlbuilder.DeleteBuilder {
	return sqlbuilder.PostgreSQL.NewDeleteBuilder()
}

// NewStruct binds v's `db` tags for SelectFrom column lists.
func NewStruct(v any) *sqlbuilder.Struct {
	return sqlbuilder.NewStruct(v).For(sqlbuilder.PostgreSQL)
}

// BulkInsert builds one multi-row INSERT. Each row must have len(cols) values.
func BulkInsert(table string, cols []string, rows [][]any) (string, []any) {
	ib := NewInsertBuilder()
	ib.InsertInto(table).Cols(cols...)
	for _, row := range rows {
		ib.Values(row...)
	}
	return ib.Build()
}
