package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtures = `{
  "countries": [
    {"_id": {"$oid": "65f0a1b2c3d4e5f601020301"}, "country_name": "India"},
    {"_id": {"$oid": "65f0a1b2c3d4e5f601020302"}, "country_name": "Brazil"}
  ],
  "trades": [
    {"_id": {"$oid": "65f0a1b2c3d4e5f601020401"}, "country_id": {"$oid": "65f0a1b2c3d4e5f601020301"}, "trade_type": "Export", "value_usd": 1200},
    {"_id": {"$oid": "65f0a1b2c3d4e5f601020402"}, "country_id": {"$oid": "65f0a1b2c3d4e5f601020302"}, "trade_type": "Export", "value_usd": 700},
    {"_id": {"$oid": "65f0a1b2c3d4e5f601020403"}, "country_id": {"$oid": "65f0a1b2c3d4e5f601020301"}, "trade_type": "Import", "value_usd": 300}
  ]
}`

func writeOfflineConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	fixturePath := filepath.Join(dir, "trade.json")
	require.NoError(t, os.WriteFile(fixturePath, []byte(fixtures), 0o644))

	reply := `{"collection": "trades", "pipeline": [{"$lookup": {"from": "countries", "localField": "country_id", "foreignField": "_id", "as": "country_doc"}}, {"$match": {"country_doc.country_name": "India", "trade_type": "Export"}}]}`
	cfg := "inference:\n  type: static\n  static_reply: '" + reply + "'\n" +
		"store:\n  type: memory\n  fixtures: " + fixturePath + "\n" +
		"logging:\n  level: error\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAskOffline(t *testing.T) {
	t.Chdir(t.TempDir())
	out, err := execute(t, "--config", writeOfflineConfig(t), "ask", "exports", "from", "india")
	require.NoError(t, err, out)

	var resp struct {
		Query      string           `json:"query"`
		Collection string           `json:"collection"`
		Count      int              `json:"count"`
		Results    []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "exports from india", resp.Query)
	assert.Equal(t, "trades", resp.Collection)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "65f0a1b2c3d4e5f601020401", resp.Results[0]["_id"])
}

func TestPromptCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	out, err := execute(t, "--config", writeOfflineConfig(t), "prompt", "monthly", "imports")
	require.NoError(t, err)
	assert.Contains(t, out, `"monthly imports"`)
	assert.Contains(t, out, "impexp")
}

func TestInvalidConfigFails(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  type: postgres\n"), 0o644))
	_, err := execute(t, "--config", path, "prompt", "x")
	assert.ErrorContains(t, err, "unknown store type")
}
