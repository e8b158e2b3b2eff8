package poller

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/stretchr/testify/require"
)

func newFixtureIndex(t *testing.T) *challenge.Index {
	t.Helper()
	dir := t.TempDir()
	sub := filepath.Join(dir, "http")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "challenge.yml"), []byte(`
id: "1"
name: http
type: zync
category: containerized
ports: [8080]
`), 0o644))
	idx, err := challenge.NewIndex(dir)
	require.NoError(t, err)
	return idx
}
