package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSourceStore_CreatesDeviceTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "FB20.DC.1.db")

	WriteSourceStore(t, path, SourceStore{
		"IncidentAll@0": {
			IncidentSample(1, 10, 11, "J_INCIDENT_ALARM", "J_INCIDENT_SET", LongArg(5)),
			IncidentSample(2, 10, 11, "J_INCIDENT_ALARM", "J_INCIDENT_CLEAR"),
		},
		"CCUSync@0": {{Timestamp: 1, Payload: map[string]any{"machineId": "SH-42"}}},
	})

	assert.Equal(t, int64(2), CountRows(t, path, "IncidentAll@0"))
	assert.Equal(t, int64(1), CountRows(t, path, "CCUSync@0"))
}

func TestSourceStore_Merge(t *testing.T) {
	a := SourceStore{"T@0": {{Timestamp: 1}}}
	b := SourceStore{"T@0": {{Timestamp: 2}}, "U@0": {{Timestamp: 3}}}

	got := a.Merge(b)
	assert.Len(t, got["T@0"], 2)
	assert.Len(t, got["U@0"], 1)
	assert.Len(t, a["T@0"], 1)
}

func TestWriteDictionary(t *testing.T) {
	path := WriteDictionary(t, filepath.Join(t.TempDir(), "textDictionary.xml"), map[int64]string{
		2: "Second",
		1: "First & foremost",
	})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := string(data)
	assert.True(t, strings.Index(doc, "<index>1</index>") < strings.Index(doc, "<index>2</index>"))
	assert.Contains(t, doc, "First &amp; foremost")
}

func TestWriteUserStore(t *testing.T) {
	path := WriteUserStore(t, filepath.Join(t.TempDir(), "fbhmi.db"), map[int64]string{42: "jsmith", 7: "ops"})
	assert.Equal(t, int64(2), CountRows(t, path, "fb_users"))
}
