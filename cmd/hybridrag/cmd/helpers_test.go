package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	samplesDir = "../../../configs/samples"
)

// isolate points every config and data location into temp dirs and
// selects the offline embedder. It returns the data dir.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("HYBRIDRAG_EMBEDDINGS_PROVIDER", "static")
	t.Setenv("HYBRIDRAG_DATA_DIR", "")
	t.Setenv("HYBRIDRAG_STORAGE_BACKEND", "")
	t.Setenv("HYBRIDRAG_LEXICAL_BACKEND", "")
	return filepath.Join(home, "data")
}

// execute runs the CLI with args plus --config and --data-dir pinned to
// temp locations.
func execute(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append(args, "--config", filepath.Dir(dataDir), "--data-dir", dataDir))
	err := cmd.Execute()
	return buf.String(), err
}

// ingestSamples loads the sample catalog and knowledge items.
func ingestSamples(t *testing.T, dataDir string) {
	t.Helper()
	_, err := execute(t, dataDir, "ingest", filepath.Join(samplesDir, "products.csv"), "--no-tui")
	require.NoError(t, err)
	_, err = execute(t, dataDir, "ingest", filepath.Join(samplesDir, "knowledge.jsonl"), "--no-tui")
	require.NoError(t, err)
}
