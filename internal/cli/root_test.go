package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ddt/internal/testutil"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "ddt", cmd.Use)
	assert.Contains(t, cmd.Long, "incident log")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"merge", "incidents", "points", "report", "run", "clean", "info"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, DefaultConfigPath(), configFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("data-dir"))
}

func TestOffsetFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"incidents", "points", "report", "run"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.NotNil(t, sub.Flags().Lookup("offset"), name)
		assert.NotNil(t, sub.Flags().Lookup("no-prompt"), name)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, t.TempDir(), "", "info", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

var t0 = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC).UnixNano()

const second = int64(time.Second)

// testConfig is written next to the data so point names resolve.
const testConfig = `
points:
  io_tables:
    analog: "IOAnalog@0"
  presets:
    Hydraulics: ["Hydraulic Pressure"]
cleanup:
  delay: 1ms
`

// writeDownload lays out a data directory with two source fragments, a
// text dictionary and a user store.
func writeDownload(t *testing.T, withOffset bool) string {
	t.Helper()
	dir := t.TempDir()

	first := testutil.SourceStore{
		"IncidentAll@0": {
			testutil.IncidentSample(t0, 100, 101, "ALARM", "SET", testutil.StringArg(200), testutil.RealArg(12.26)),
			testutil.IncidentSample(t0+2*second, 300, 301, "EVENT", "ONE_SHOT", testutil.LongArg(4), testutil.LongArg(42)),
		},
		"IOConfig@0": {
			{Timestamp: t0, Payload: map[string]any{"ioName": "Hydraulic Pressure", "ioId": 7, "ioType": "analog", "active": true}},
		},
		"IOAnalog@0": {
			{Timestamp: t0, Payload: map[string]any{"ioId": 7, "value": 12.5}},
			{Timestamp: t0 + second, Payload: map[string]any{"ioId": 7, "value": 13}},
		},
		"CCUSync@0": {
			{Timestamp: t0, Payload: map[string]any{"machineId": "CCU12345"}},
			{Timestamp: t0 + 600*second, Payload: map[string]any{"machineId": "CCU12345"}},
		},
	}
	if withOffset {
		first = first.Merge(testutil.TimeZoneSamples(t0, 555, 800))
	}
	testutil.WriteSourceStore(t, filepath.Join(dir, "FB20.DC.1.db"), first)
	testutil.WriteSourceStore(t, filepath.Join(dir, "FB20.DC.2.db"), testutil.SourceStore{
		"IncidentAll@0": {
			testutil.IncidentSample(t0+second, 999, 101, "WARNING", "SET"),
		},
	})
	testutil.WriteDictionary(t, filepath.Join(dir, "FB20_textDic_en.xml"), map[int64]string{
		100: "Motor %s overload at %.1f A",
		101: "Reduce load",
		200: "M1",
		300: "Door %d opened by User %d",
		301: "Close door",
	})
	testutil.WriteUserStore(t, filepath.Join(dir, "fbhmi.db"), map[int64]string{42: "jsmith"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ddt.yaml"), []byte(testConfig), 0644))
	return dir
}

// execute runs the root command against dir with stdin.
func execute(t *testing.T, dir, stdin string, args ...string) (string, string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--data-dir", dir, "--config", filepath.Join(dir, "ddt.yaml")))

	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
