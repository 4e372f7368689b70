package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/affiliate-ingest/internal/entity"
)

const validSource = `
sources:
  - id: a8net
    entry_url: https://pub.a8.example.com/login
    credentials: a8net
    encoding: shift_jis
    delimiter: "\t"
    timezone: Asia/Tokyo
    settle: 1s
    steps:
      - {phase: authenticate, action: fill, selector: "#login", value: "${username}"}
      - {phase: authenticate, action: fill, selector: "#password", value: "${password}"}
      - {phase: authenticate, action: click, selector: "button[type=submit]"}
      - {phase: navigate, action: navigate, url: /report/conversions}
      - {phase: navigate, action: wait_event, event: network_idle}
      - {phase: filter, action: select, selector: "#period", value: "yesterday", timeout: 10s}
      - {phase: export, action: check_empty, text: "データがありません", ready: "#csv"}
      - {phase: export, action: download, selector: "#csv"}
    fields:
      - {column: 注文ID, field: order_id, type: string}
      - {column: 報酬額, aliases: [成果報酬], field: reward, type: integer}
      - {column: 発生日時, field: occurred_at, type: datetime}
    persist:
      table: a8_conversions
      policy: upsert
      key: [order_id]
  - id: moshimo
    entry_url: https://af.moshimo.example.com/
    credentials: moshimo
    encoding: utf-8-bom
    steps:
      - {phase: export, action: check_empty, selector: ".no-data", ready: "a.download"}
      - {phase: export, action: download, selector: "a.download"}
    fields:
      - {column: クリック数, field: clicks, type: integer}
    persist:
      table: moshimo_clicks
      policy: insert_always
`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(validSource))
	require.NoError(t, err)
	assert.Equal(t, []string{"a8net", "moshimo"}, r.IDs())

	src, ok := r.Get("a8net")
	require.True(t, ok)
	assert.Equal(t, '\t', src.DelimiterRune())
	assert.Equal(t, "Asia/Tokyo", src.Zone().String())
	assert.Equal(t, time.Second, src.Settle)
	assert.Equal(t, 10*time.Second, src.Steps[5].Timeout)
	assert.Equal(t, []string{"order_id", "reward", "occurred_at"}, src.Columns())
	assert.Equal(t, entity.EncodingShiftJIS, src.Encoding)

	other, ok := r.Get("moshimo")
	require.True(t, ok)
	assert.Equal(t, time.UTC, other.Zone())
	assert.Equal(t, ',', other.DelimiterRune())

	_, ok = r.Get("nope")
	assert.False(t, ok)
	assert.Len(t, r.All(), 2)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validSource), 0o600))
	r, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, r.All(), 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "download not last",
			mutate:  func(s string) string { return strings.Replace(s, `      - {phase: export, action: download, selector: "a.download"}`, `      - {phase: export, action: download, selector: "a.download"}`+"\n"+`      - {phase: export, action: click, selector: "a.download"}`, 1) },
			wantErr: "download must be the last step",
		},
		{
			name:    "check_empty without ready selector",
			mutate:  func(s string) string { return strings.Replace(s, `, ready: "a.download"`, "", 1) },
			wantErr: "ready selector is required",
		},
		{
			name:    "phases out of order",
			mutate:  func(s string) string { return strings.Replace(s, "{phase: navigate, action: wait_event", "{phase: authenticate, action: wait_event", 1) },
			wantErr: "phase authenticate after navigate",
		},
		{
			name:    "upsert without key",
			mutate:  func(s string) string { return strings.Replace(s, "      key: [order_id]\n", "", 1) },
			wantErr: "persist.key is required for upsert",
		},
		{
			name:    "key not mapped",
			mutate:  func(s string) string { return strings.Replace(s, "key: [order_id]", "key: [order_no]", 1) },
			wantErr: `persist field "order_no" is not a mapped field`,
		},
		{
			name:    "bad table identifier",
			mutate:  func(s string) string { return strings.Replace(s, "table: moshimo_clicks", "table: moshimo-clicks", 1) },
			wantErr: "persist.table",
		},
		{
			name:    "unknown timezone",
			mutate:  func(s string) string { return strings.Replace(s, "Asia/Tokyo", "Mars/Olympus", 1) },
			wantErr: "timezone",
		},
		{
			name:    "duplicate id",
			mutate:  func(s string) string { return strings.Replace(s, "id: moshimo", "id: a8net", 1) },
			wantErr: "duplicate id",
		},
		{
			name:    "unknown action",
			mutate:  func(s string) string { return strings.Replace(s, "action: wait_event", "action: hover", 1) },
			wantErr: "Action",
		},
		{
			name:    "unsupported encoding",
			mutate:  func(s string) string { return strings.Replace(s, "encoding: utf-8-bom", "encoding: euc-jp", 1) },
			wantErr: "Encoding",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mutate(validSource)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse([]byte("sources: []\n"))
	assert.Error(t, err)
}

func TestShippedSourcesFileLoads(t *testing.T) {
	r, err := Load(filepath.Join("..", "..", "configs", "sources.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a8net", "moshimo"}, r.IDs())

	src, _ := r.Get("moshimo")
	assert.Equal(t, []string{"day", "advertiser"}, src.Persist.Key)
	assert.Equal(t, entity.PolicyInsertSkipDuplicate, src.Persist.Policy)
}
