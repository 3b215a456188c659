package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInitJSONComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	closer := Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() {
		_ = closer.Close()
		Init(DefaultConfig())
	})

	logger := Component("supervisor")
	logger.Info().Int("pid", 42).Msg("backend started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "supervisor", entry["component"])
	require.Equal(t, "backend started", entry["message"])
	require.EqualValues(t, 42, entry["pid"])
}

func TestInitWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "workbench.log")
	var buf bytes.Buffer
	closer := Init(Config{Level: "info", Format: "json", Output: &buf, File: path, MaxSizeMB: 1})
	t.Cleanup(func() { Init(DefaultConfig()) })

	logger := WithRun("run-1", "carbon")
	logger.Info().Msg("run started")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"run_id":"run-1"`)
	require.Contains(t, buf.String(), "run started")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, "warn", parseLevel("warning").String())
	require.Equal(t, "info", parseLevel("bogus").String())
}

func TestInitWhileLogging(t *testing.T) {
	t.Cleanup(func() { Init(DefaultConfig()) })
	require.Equal(t, time.RFC3339, zerolog.TimeFieldFormat)

	logger := zerolog.New(io.Discard).With().Timestamp().Logger()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				logger.Info().Msg("tick")
			}
		}
	}()

	for i := 0; i < 20; i++ {
		Init(Config{Level: "debug", Format: "json", Output: io.Discard})
	}
	close(stop)
	<-done
	require.Equal(t, time.RFC3339, zerolog.TimeFieldFormat)
}
