package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plug/cmd/internal/migrate"
)

func sqliteArgs(t *testing.T, rest ...string) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plug.db")
	return append([]string{"--store", "sqlite", "--db-path", path}, rest...)
}

func TestRun_MigrateStatusSQLite(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), sqliteArgs(t, "migrate", "status"), &out, &errOut)
	require.NoError(t, err, errOut.String())

	files, err := migrate.Files(migrate.SQLite)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, len(files)+1)
	assert.Contains(t, lines[0], "NAME")
	for i, f := range files {
		assert.Contains(t, lines[i+1], f.Name)
		assert.Contains(t, lines[i+1], "true")
	}
}

func TestRun_MigrateUpIsIdempotent(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), sqliteArgs(t, "migrate", "up"), &out, &bytes.Buffer{}))
	assert.Contains(t, out.String(), "schema is up to date")
}

func TestRun_MigrateInfoUnknown(t *testing.T) {
	err := run(context.Background(), sqliteArgs(t, "migrate", "info", "9999_missing.sql"), &bytes.Buffer{}, &bytes.Buffer{})
	require.ErrorIs(t, err, migrate.ErrUnknownMigration)
}

func TestRun_SweepMemory(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--store", "memory", "sweep"}, &out, &bytes.Buffer{}))
	assert.Equal(t, "deleted 0 expired refresh credentials\n", out.String())
}

func TestRun_Usage(t *testing.T) {
	cases := [][]string{
		nil,
		{"migrate"},
		{"frobnicate"},
		sqliteArgs(t, "migrate", "sideways"),
		sqliteArgs(t, "migrate", "info"),
	}
	for _, args := range cases {
		err := run(context.Background(), args, &bytes.Buffer{}, &bytes.Buffer{})
		assert.Error(t, err, "args=%v", args)
	}
}

func TestRun_MigrateMemoryHasNoSchema(t *testing.T) {
	err := run(context.Background(), []string{"--store", "memory", "migrate", "status"}, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schema")
}

func TestRun_TimeoutBoundsCommand(t *testing.T) {
	err := run(context.Background(), sqliteArgs(t, "--timeout", "1ns", "migrate", "status"), &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err, "an expired deadline must stop the command")
}
