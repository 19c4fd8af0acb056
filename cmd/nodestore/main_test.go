package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the tool against the store configured in cfg and returns what
// it printed.
func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"nodestore", "--config", cfg, "--log-level", "warn"}, args...))
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "storage.yaml")
	cfg := fmt.Sprintf("path: %s\nhot:\n  sync: false\ncold:\n  enabled: true\n", dir)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestPutGetDelete(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, cfg, "put", "Block", "0x6b6579", "76616c7565")
	require.NoError(t, err)

	out, err := run(t, cfg, "get", "Block", "6b6579")
	require.NoError(t, err)
	assert.Equal(t, "0x76616c7565\n", out)

	out, err = run(t, cfg, "get", "--raw", "Block", "key")
	require.NoError(t, err)
	assert.Equal(t, "value\n", out)

	_, err = run(t, cfg, "put", "--raw", "--merge", "Block", "key", "+more")
	require.NoError(t, err)
	out, err = run(t, cfg, "get", "--raw", "Block", "key")
	require.NoError(t, err)
	assert.Equal(t, "value+more\n", out)

	_, err = run(t, cfg, "delete", "--raw", "Block", "key")
	require.NoError(t, err)
	_, err = run(t, cfg, "get", "--raw", "Block", "key")
	assert.ErrorContains(t, err, "not found")
}

func TestRefcountedColumn(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, cfg, "put", "--raw", "Receipts", "r", "receipt")
	require.NoError(t, err)
	out, err := run(t, cfg, "get", "--raw", "Receipts", "r")
	require.NoError(t, err)
	assert.Equal(t, "receipt\n", out)

	_, err = run(t, cfg, "delete", "--raw", "Receipts", "r")
	require.NoError(t, err)
	_, err = run(t, cfg, "get", "--raw", "Receipts", "r")
	assert.ErrorContains(t, err, "not found")
}

func TestScan(t *testing.T) {
	cfg := writeConfig(t)
	for _, k := range []string{"aa", "a", "bb1", "aa1", "cc1"} {
		_, err := run(t, cfg, "put", "--raw", "Block", k, "v_"+k)
		require.NoError(t, err)
	}

	out, err := run(t, cfg, "scan", "--raw", "Block")
	require.NoError(t, err)
	assert.Equal(t, "a\tv_a\naa\tv_aa\naa1\tv_aa1\nbb1\tv_bb1\ncc1\tv_cc1\n", out)

	out, err = run(t, cfg, "scan", "--raw", "--start", "aa", "--end", "bb1", "Block")
	require.NoError(t, err)
	assert.Equal(t, "aa\tv_aa\naa1\tv_aa1\n", out)

	out, err = run(t, cfg, "scan", "--raw", "--prefix", "aa", "--limit", "1", "Block")
	require.NoError(t, err)
	assert.Equal(t, "aa\tv_aa\n", out)

	_, err = run(t, cfg, "scan", "--raw", "--prefix", "a", "--end", "b", "Block")
	assert.Error(t, err)

	_, err = run(t, cfg, "scan", "ContractCode")
	assert.ErrorContains(t, err, "unsupported")
}

func TestColumns(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, cfg, "columns")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 13)
	assert.Contains(t, lines[7], "State")
	assert.Contains(t, lines[7], "iter,range")
	assert.Contains(t, lines[12], "ContractCode")
	assert.True(t, strings.HasSuffix(lines[12], "get"))
}

func TestInvalidArguments(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, cfg, "get", "NoSuchColumn", "00")
	assert.ErrorContains(t, err, "unknown column")

	_, err = run(t, cfg, "get", "Block", "zz")
	assert.ErrorContains(t, err, "decode hex")

	_, err = run(t, cfg, "put", "Block", "00")
	assert.Error(t, err)

	_, err = run(t, cfg, "prune", "minus-one")
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, cfg, "prune", "10")
	require.NoError(t, err)
	assert.Equal(t, "pruned 0 blocks below height 10\n", out)
}
