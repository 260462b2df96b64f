package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(embedMigrations, dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, e := range entries {
		raw, err := fs.ReadFile(embedMigrations, dir+"/"+e.Name())
		require.NoError(t, err)

		body := string(raw)
		assert.Contains(t, body, "-- +goose Up", e.Name())
		assert.Contains(t, body, "-- +goose Down", e.Name())
	}
}

func TestChildTablesCascade(t *testing.T) {
	raw, err := fs.ReadFile(embedMigrations, dir+"/00001_requests.sql")
	require.NoError(t, err)

	body := string(raw)
	for _, table := range []string{"request_notes", "request_activity", "request_attachments", "request_watchers", "request_pins", "request_views"} {
		start := strings.Index(body, "CREATE TABLE IF NOT EXISTS "+table+" ")
		require.GreaterOrEqual(t, start, 0, table)
		end := strings.Index(body[start:], ");")
		assert.Contains(t, body[start:start+end], "REFERENCES requests(id) ON DELETE CASCADE", table)
	}
}
