package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergev/bci/script"
	"github.com/sergev/bci/store"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	conf, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "demo", conf.Default)

	s, name, err := conf.Session("")
	require.NoError(t, err)
	assert.Equal(t, "demo", name)
	assert.Equal(t, "synthetic", s.Board.Type)
	assert.Equal(t, 20, s.BlockCount())

	sc, err := s.Script()
	require.NoError(t, err)
	assert.Equal(t, script.Default(), sc)

	quick, _, err := conf.Session("quick")
	require.NoError(t, err)
	sc, err = quick.Script()
	require.NoError(t, err)
	require.Len(t, sc, 4)
	assert.Equal(t, 2, sc.RecordingPhases())
	assert.Equal(t, script.Switch, sc[1].Label)
	assert.Equal(t, 2*time.Second, sc[1].Duration)
	assert.Equal(t, script.Rest, sc[3].Label)

	_, _, err = conf.Session("missing")
	assert.ErrorContains(t, err, `session "missing" not found`)
}

func TestLoadYAML(t *testing.T) {
	// Layout of the original config.yaml
	path := writeConfig(t, "config.yaml", `
sessions:
  demo:
    board:
      type: synthetic
      port: COM3
      sampling_rate: 250
`)
	conf, err := Load(path)
	require.NoError(t, err)

	s, name, err := conf.Session("")
	require.NoError(t, err)
	assert.Equal(t, "demo", name)
	assert.Equal(t, "COM3", s.Board.Port)
	assert.Equal(t, 250.0, s.Board.SamplingRate)
	assert.Equal(t, DefaultKind, s.RunKind())
	assert.Equal(t, 50*time.Millisecond, s.TickInterval())
	assert.Equal(t, 125, s.ChunkSamples(250))
	assert.Equal(t, DefaultQueue, s.QueueSize())

	cfg := s.BoardConfig()
	assert.Equal(t, DefaultNoise, cfg.Noise)
	assert.True(t, cfg.Realtime)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "bci.toml", `
default = "lab"

[storage]
root = "/data/eeg"
format = "csv"
index = "none"

[storage.remote]
endpoint = "minio.local:9000"
access_key = "key"
secret_key = "secret"
bucket = "runs"

[sessions.lab]
kind = "test"
blocks = 5
tick_ms = 20
chunk_ms = 100
queue = 8

[sessions.lab.board]
type = "usbbulk"
sampling_rate = 500
channels = 16
vendor_id = 0x1234
product_id = 0xabcd
noise = 0.0
realtime = false

[[sessions.lab.phase]]
name = "Imagine REST"
duration_ms = 4000
record = true
label = "rest"
`)
	conf, err := Load(path)
	require.NoError(t, err)

	s, _, err := conf.Session("")
	require.NoError(t, err)
	assert.Equal(t, "test", s.RunKind())
	assert.Equal(t, 5, s.BlockCount())
	assert.Equal(t, 20*time.Millisecond, s.TickInterval())
	assert.Equal(t, 50, s.ChunkSamples(500))
	assert.Equal(t, 8, s.QueueSize())

	cfg := s.BoardConfig()
	assert.Equal(t, "usbbulk", cfg.Type)
	assert.Equal(t, uint16(0x1234), cfg.VendorID)
	assert.Equal(t, uint16(0xabcd), cfg.ProductID)
	assert.Equal(t, 16, cfg.Channels)
	assert.Zero(t, cfg.Noise)
	assert.False(t, cfg.Realtime)

	sc, err := s.Script()
	require.NoError(t, err)
	require.Len(t, sc, 1)
	assert.True(t, sc[0].Record)

	root, err := conf.Storage.RootDir()
	require.NoError(t, err)
	assert.Equal(t, "/data/eeg", root)
	index, err := conf.Storage.IndexPath()
	require.NoError(t, err)
	assert.Empty(t, index)
	format, err := store.ParseFormat(conf.Storage.Format)
	require.NoError(t, err)
	assert.Equal(t, store.FormatCSV, format)

	remote, ok := conf.Storage.RemoteConfig()
	require.True(t, ok)
	assert.Equal(t, "runs", remote.Bucket)
	assert.Equal(t, "minio.local:9000", remote.Endpoint)
}

func TestValidationErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "NoSessions",
			content: `default = "x"`,
			wantErr: "no sessions",
		},
		{
			name: "MissingDefault",
			content: `
default = "other"
[sessions.a.board]
type = "synthetic"
`,
			wantErr: `default session "other" not found`,
		},
		{
			name: "AmbiguousDefault",
			content: `
[sessions.a.board]
type = "synthetic"
[sessions.b.board]
type = "synthetic"
`,
			wantErr: "`default` key is missing",
		},
		{
			name: "NoBoardType",
			content: `
[sessions.a]
blocks = 2
`,
			wantErr: "has no board type",
		},
		{
			name: "NegativeRate",
			content: `
[sessions.a.board]
type = "synthetic"
sampling_rate = -1
`,
			wantErr: "invalid sampling_rate",
		},
		{
			name: "TooManyBlocks",
			content: `
[sessions.a]
blocks = 101
[sessions.a.board]
type = "synthetic"
`,
			wantErr: "invalid blocks: 101",
		},
		{
			name: "ZeroDuration",
			content: `
[sessions.a.board]
type = "synthetic"
[[sessions.a.phase]]
name = "x"
duration_ms = 0
`,
			wantErr: "invalid duration_ms: 0",
		},
		{
			name: "BadLabel",
			content: `
[sessions.a.board]
type = "synthetic"
[[sessions.a.phase]]
name = "x"
duration_ms = 100
record = true
label = "left"
`,
			wantErr: "invalid label",
		},
		{
			name: "LabelWithoutRecord",
			content: `
[sessions.a.board]
type = "synthetic"
[[sessions.a.phase]]
name = "x"
duration_ms = 100
label = "REST"
`,
			wantErr: "does not record",
		},
		{
			name: "BadFormat",
			content: `
[storage]
format = "hdf5"
[sessions.a.board]
type = "synthetic"
`,
			wantErr: "unknown storage format",
		},
		{
			name: "RemoteWithoutKeys",
			content: `
[storage.remote]
endpoint = "localhost:9000"
[sessions.a.board]
type = "synthetic"
`,
			wantErr: "access_key",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "bci.toml", tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadSyntaxError(t *testing.T) {
	_, err := Load(writeConfig(t, "bci.toml", "default = "))
	assert.ErrorContains(t, err, "failed to parse TOML")
	_, err = Load(writeConfig(t, "bci.yml", "sessions: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse YAML")
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestInitializeCreatesDefault(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("config lives under AppData on Windows")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)

	conf, path, err := Initialize()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".bci"), path)
	assert.Equal(t, "demo", conf.Default)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, defaultConfigData, data)

	// An existing file is left alone
	custom := strings.Replace(string(defaultConfigData), `default = "demo"`, `default = "quick"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(custom), 0o644))
	conf, _, err = Initialize()
	require.NoError(t, err)
	assert.Equal(t, "quick", conf.Default)

	root, err := conf.Storage.RootDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "eegdata"), root)
	index, err := conf.Storage.IndexPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "eegdata", "index.db"), index)
	_, ok := conf.Storage.RemoteConfig()
	assert.False(t, ok)
}
