package routes

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portcullis/pkg/middleware"
	"github.com/platinummonkey/portcullis/pkg/observability"
)

const sampleTable = `
routes:
  - path: /api/v1/orders
    method: get
    middleware: [auth, order.read]
  - path: /api/v1/orders
    method: POST
    middleware: [order.create]
  - path: /health
    method: GET
    middleware: [anonymous]
`

func TestParseAndResolve(t *testing.T) {
	table, err := Parse([]byte(sampleTable))
	require.NoError(t, err)
	require.Len(t, table.Routes, 3)

	// Methods are normalized to upper case.
	assert.Equal(t, "GET", table.Routes[0].Method)

	assert.Equal(t, middleware.Chain{Authenticate: true, Permissions: []string{"order.read"}},
		table.Routes[0].Chain())
	assert.Equal(t, middleware.Chain{Authenticate: true, Permissions: []string{"order.create"}},
		table.Routes[1].Chain())
	assert.Equal(t, middleware.Chain{Authenticate: false},
		table.Routes[2].Chain())
}

func TestParseRejectsMalformedTables(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty table", "routes: []"},
		{"missing leading slash", "routes:\n  - path: orders\n    method: GET"},
		{"bad method", "routes:\n  - path: /orders\n    method: FETCH"},
		{"duplicate route", "routes:\n  - path: /orders\n    method: GET\n  - path: /orders\n    method: GET"},
		{"empty middleware token", "routes:\n  - path: /orders\n    method: GET\n    middleware: ['']"},
		{"anonymous with permission code", "routes:\n  - path: /orders\n    method: DELETE\n    middleware: [anonymous, order.delete]"},
		{"not yaml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func writeTable(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	writeTable(t, path, sampleTable)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	var reloads int
	w, err := NewWatcher(path, logger, func(*Table) { reloads++ })
	require.NoError(t, err)
	assert.Equal(t, 1, reloads)
	assert.Len(t, w.Table().Routes, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	writeTable(t, path, "routes:\n  - path: /only\n    method: GET\n")
	assert.Eventually(t, func() bool {
		return len(w.Table().Routes) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherKeepsTableOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	writeTable(t, path, sampleTable)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	w, err := NewWatcher(path, logger, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	writeTable(t, path, "routes: []")

	// The broken table must never become active.
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, w.Table().Routes, 3)
}
