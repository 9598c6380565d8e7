package normalizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadIssuerRefMap(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "universe.tsv")
	content := "ticker\tcik\tname\tsector\n" +
		"aapl\t320193\tApple Inc.\tTechnology\n" +
		"MSFT\t789019\tMicrosoft Corporation\tTechnology\n" +
		"\t\tMissing CIK Row\t\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := LoadIssuerRefMap(path)
	require.NoError(t, err)
	require.Len(t, m, 2)

	assert.Equal(t, "AAPL", m["0000320193"].Ticker)
	assert.Equal(t, "Apple Inc.", m["0000320193"].Company)
	assert.Equal(t, "MSFT", m["0000789019"].Ticker)
}

func TestLoadIssuerRefMapMissingFile(t *testing.T) {
	t.Parallel()

	m, err := LoadIssuerRefMap(filepath.Join(t.TempDir(), "absent.tsv"))
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestLoadIssuerRefMapEmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "universe.tsv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	m, err := LoadIssuerRefMap(path)
	require.NoError(t, err)
	assert.Empty(t, m)
}
