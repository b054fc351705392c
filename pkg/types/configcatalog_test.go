package types

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAgentConfigCatalog_ParsesEntries(t *testing.T) {
	path := writeCatalog(t, `
configs:
  - name: writer
    image: registry.example.com/agents/writer:latest
    cpu_request: "500m"
    memory_request: "512Mi"
    cpu_limit: "1"
    memory_limit: "1Gi"
    capabilities: [write, summarize]
    env:
      MODEL: gpt
`)

	catalog, err := LoadAgentConfigCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog.Configs, 1)
	assert.Equal(t, "writer", catalog.Configs[0].Name)
	assert.Equal(t, []string{"write", "summarize"}, catalog.Configs[0].Capabilities)
	assert.Equal(t, "gpt", catalog.Configs[0].Env["MODEL"])
}

func TestLoadAgentConfigCatalog_RejectsMissingName(t *testing.T) {
	path := writeCatalog(t, `
configs:
  - image: registry.example.com/agents/writer:latest
`)
	_, err := LoadAgentConfigCatalog(path)
	assert.Error(t, err)
}

func TestLoadAgentConfigCatalog_RejectsDuplicateNames(t *testing.T) {
	path := writeCatalog(t, `
configs:
  - name: writer
    image: img:1
  - name: writer
    image: img:2
`)
	_, err := LoadAgentConfigCatalog(path)
	assert.Error(t, err)
}
