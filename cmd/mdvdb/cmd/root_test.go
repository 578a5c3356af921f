package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir switches the process working directory for the duration of the
// test and restores it afterward. Vault commands resolve paths relative
// to the process working directory, matching how a user invokes the CLI.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func writeMarkdown(t *testing.T, dir, relPath, content string) {
	t.Helper()
	full := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func writeMockConfig(t *testing.T, dir string) {
	t.Helper()
	yaml := "embeddings:\n  provider: mock\n  model: mock\n  dimensions: 16\n"
	writeMarkdown(t, dir, ".markdownvdb.yaml", yaml)
}

func TestRootCmd_InitWritesConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	chdir(t, dir)

	root := NewRootCmd()
	root.SetArgs([]string{"init", "--provider", "mock", "--dimensions", "16"})
	var out bytes.Buffer
	root.SetOut(&out)
	require.NoError(t, root.ExecuteContext(context.Background()))

	_, err := os.Stat(filepath.Join(dir, ".markdownvdb.yaml"))
	assert.NoError(t, err)
}

func TestRootCmd_InitRefusesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	chdir(t, dir)
	writeMockConfig(t, dir)

	root := NewRootCmd()
	root.SetArgs([]string{"init"})
	root.SetOut(&bytes.Buffer{})
	assert.Error(t, root.ExecuteContext(context.Background()))
}

func TestRootCmd_IndexThenSearchFindsResult(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	chdir(t, dir)
	writeMockConfig(t, dir)
	writeMarkdown(t, dir, "notes.md", "# Notes\n\nA discussion of distributed caching strategies.\n")

	indexCmd := NewRootCmd()
	indexCmd.SetArgs([]string{"index"})
	var indexOut bytes.Buffer
	indexCmd.SetOut(&indexOut)
	require.NoError(t, indexCmd.ExecuteContext(context.Background()))
	assert.Contains(t, indexOut.String(), "ingested 1")

	searchCmd := NewRootCmd()
	searchCmd.SetArgs([]string{"search", "distributed caching strategies", "--mode", "semantic"})
	var searchOut bytes.Buffer
	searchCmd.SetOut(&searchOut)
	require.NoError(t, searchCmd.ExecuteContext(context.Background()))
	assert.Contains(t, searchOut.String(), "notes.md")
}

func TestRootCmd_StatusReportsCounts(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	chdir(t, dir)
	writeMockConfig(t, dir)
	writeMarkdown(t, dir, "a.md", "# A\n\nSome content.\n")

	indexCmd := NewRootCmd()
	indexCmd.SetArgs([]string{"index"})
	indexCmd.SetOut(&bytes.Buffer{})
	require.NoError(t, indexCmd.ExecuteContext(context.Background()))

	statusCmd := NewRootCmd()
	statusCmd.SetArgs([]string{"status"})
	var out bytes.Buffer
	statusCmd.SetOut(&out)
	require.NoError(t, statusCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "documents:        1")
}
