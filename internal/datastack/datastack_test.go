package datastack

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/workbench/internal/models"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "carbon.json")
	ps := &models.ParameterSet{
		ModelName:     "natcap.invest.carbon",
		InvestVersion: "3.14.2",
		Args:          map[string]any{"workspace_dir": "/tmp/ws", "calc_sequestration": true},
	}
	require.NoError(t, Save(path, ps))

	got, err := LoadForModel(path, "natcap.invest.carbon")
	require.NoError(t, err)
	require.Equal(t, ps.Args, got.Args)
	require.Equal(t, "3.14.2", got.InvestVersion)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"args": `), 0o644))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestLoadMissingModelName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nomodel.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"args": {}}`), 0o644))

	_, err := Load(path)
	var validation *models.ValidationErrors
	require.True(t, errors.As(err, &validation))
	require.Equal(t, []string{"model_name"}, validation.Fields())
}

func TestLoadForModelMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdr.json")
	require.NoError(t, Save(path, &models.ParameterSet{ModelName: "natcap.invest.sdr", Args: map[string]any{}}))

	_, err := LoadForModel(path, "natcap.invest.carbon")
	require.ErrorIs(t, err, ErrModelMismatch)
}
