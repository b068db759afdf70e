package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flagBackend, flagSQLitePath, flagTable, flagEndpoint = "", "", "", ""
	showVersion, saveOverride, importFormat = 0, false, 1

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestGraphctl_SaveHistoryShowDelete(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	dir := t.TempDir()
	db := filepath.Join(dir, "graphs.db")
	doc := writeFile(t, dir, "graph.json",
		`{"metadata":{"title":"Reading list","version":0},"nodes":[{"id":"a"},{"id":"b"}],"edges":[{"source":"a","target":"b"}]}`)

	out, err := run(t, "migrate", "--sqlite-path", db)
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite schema at version")

	out, err = run(t, "save", "g1", doc, "--sqlite-path", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Saved g1 as version 1")

	// metadata.version is still 0, so a plain save is stale now
	_, err = run(t, "save", "g1", doc, "--sqlite-path", db)
	assert.Error(t, err)

	out, err = run(t, "save", "g1", doc, "--override", "--sqlite-path", db)
	require.NoError(t, err)
	assert.Contains(t, out, "version 2")

	out, err = run(t, "history", "g1", "--sqlite-path", db)
	require.NoError(t, err)
	assert.Contains(t, out, "v2")
	assert.Contains(t, out, "Total: 2 versions")

	out, err = run(t, "list", "--sqlite-path", db)
	require.NoError(t, err)
	assert.Contains(t, out, "g1\tv2")
	assert.Contains(t, out, "Reading list")

	out, err = run(t, "show", "g1", "--version", "1", "--sqlite-path", db)
	require.NoError(t, err)
	assert.Contains(t, out, `"version": 1`)

	out, err = run(t, "show", "g1", "--sqlite-path", db)
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "a_b"`)

	out, err = run(t, "delete", "g1", "--sqlite-path", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted g1 (2 versions)")

	out, err = run(t, "list", "--sqlite-path", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No graphs stored")
}

func TestGraphctl_ImportLegacy(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	dir := t.TempDir()
	db := filepath.Join(dir, "graphs.db")
	legacy := writeFile(t, dir, "legacy.json",
		`{"metadata":{"title":"Old","version":"4"},"nodes":[{"id":"n1","bibl":"Smith 1999","position":{"x":"10"}}],"edges":[]}`)

	out, err := run(t, "import", "old", legacy, "--sqlite-path", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Saved old as version 1")

	out, err = run(t, "show", "old", "--sqlite-path", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Smith 1999")
}

func TestGraphctl_Errors(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	dir := t.TempDir()
	db := filepath.Join(dir, "graphs.db")

	_, err := run(t, "history", "missing", "--sqlite-path", db)
	assert.Error(t, err)

	_, err = run(t, "save", "g1", filepath.Join(dir, "nope.json"), "--sqlite-path", db)
	assert.Error(t, err)

	_, err = run(t, "history")
	assert.Error(t, err)

	_, err = run(t, "list", "--backend", "postgres")
	assert.Error(t, err)
}
