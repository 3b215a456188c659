package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClientURL(srv.URL, 0)
	t.Cleanup(client.CloseIdleConnections)
	return client
}

func TestClientReadyAndShutdown(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, http.MethodGet, r.Method)
		paths = append(paths, r.URL.Path)
		_, _ = io.WriteString(w, "ok")
	})

	require.NoError(t, client.Ready(context.Background()))
	require.NoError(t, client.Shutdown(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/ready", "/shutdown"}, paths)
}

func TestClientStatusError(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	err := client.Ready(context.Background())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusInternalServerError, statusErr.Code)
	require.Equal(t, "boom", statusErr.Body)
}

func TestClientSpec(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/getspec", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "carbon", body["model"])
		_, _ = io.WriteString(w, `{"model_name": "Carbon", "module": "natcap.invest.carbon", "args": {"workspace_dir": {"name": "Workspace", "type": "directory"}}}`)
	})

	spec, err := client.Spec(context.Background(), "carbon")
	require.NoError(t, err)
	require.Equal(t, "natcap.invest.carbon", spec.Module)
	require.Equal(t, "directory", spec.Args["workspace_dir"].Type)
}

func TestClientValidateEncodesArgsAsString(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "natcap.invest.carbon", body["model_module"])
		encoded, ok := body["args"].(string)
		require.True(t, ok)
		var args map[string]any
		require.NoError(t, json.Unmarshal([]byte(encoded), &args))
		require.Equal(t, "/tmp/ws", args["workspace_dir"])
		require.NotContains(t, body, "limit_to")
		_, _ = io.WriteString(w, `[[["lulc_cur_path"], "Key is missing"]]`)
	})

	warnings, err := client.Validate(context.Background(), "natcap.invest.carbon", map[string]any{"workspace_dir": "/tmp/ws"}, "")
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Equal(t, []string{"lulc_cur_path"}, warnings[0].Keys)
}

func TestClientModelsAndDatastack(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			_, _ = io.WriteString(w, `{"Carbon": {"internal_name": "carbon", "aliases": []}}`)
		case "/post_datastack_file":
			_, _ = io.WriteString(w, `{"type": "json", "args": {"a": 1}, "module_name": "natcap.invest.carbon", "invest_version": "3.14.2"}`)
		default:
			http.NotFound(w, r)
		}
	})

	list, err := client.Models(context.Background())
	require.NoError(t, err)
	require.Equal(t, "carbon", list["Carbon"].InternalName)

	info, err := client.DatastackInfo(context.Background(), "/tmp/ds.json")
	require.NoError(t, err)
	require.Equal(t, "natcap.invest.carbon", info.ModuleName)
}

func TestClientWriteParameterSetAndSaveToPython(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]map[string]any{}
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies[r.URL.Path] = body
		_, _ = io.WriteString(w, "saved")
	})

	args := map[string]any{"workspace_dir": "/tmp/ws"}
	require.NoError(t, client.WriteParameterSet(context.Background(), "/tmp/p.json", "natcap.invest.carbon", args, true))
	require.NoError(t, client.SaveToPython(context.Background(), "/tmp/run.py", "carbon", "natcap.invest.carbon", args))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "/tmp/p.json", bodies["/write_parameter_set_file"]["parameterSetPath"])
	require.Equal(t, true, bodies["/write_parameter_set_file"]["relativePaths"])
	require.Equal(t, "natcap.invest.carbon", bodies["/save_to_python"]["pyname"])
}
