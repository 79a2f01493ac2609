package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/db-rag/internal/core/connection"
)

func TestRegistry_Open_UnknownDialect(t *testing.T) {
	registry := NewRegistry()

	conn := &connection.Connection{
		Name:    "legacy",
		Dialect: connection.Dialect("oracle"),
		DSN:     "oracle://localhost:1521/XE",
	}

	_, err := registry.Open(context.Background(), conn)
	require.Error(t, err)
	assert.ErrorIs(t, err, connection.ErrUnknownDialect)
}
