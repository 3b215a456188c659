package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/workbench/internal/events"
	"github.com/tOgg1/workbench/internal/models"
)

func newTestServer(t *testing.T, reg Registration, source EventSource) *httptest.Server {
	t.Helper()
	b := New()
	require.NoError(t, b.Register(reg))
	srv := NewServer(b, source, Vars{ExePath: "/opt/invest", WorkbenchVersion: "dev"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		b.Unregister()
		require.NoError(t, b.Wait(context.Background()))
	})
	return ts
}

func TestServerInvoke(t *testing.T) {
	ts := newTestServer(t, Registration{
		Handlers: map[string]HandlerFunc{
			ChannelIsFirstRun: func(context.Context, json.RawMessage) (any, error) {
				return FirstRunReply{FirstRun: true}, nil
			},
		},
	}, nil)

	resp, err := http.Post(ts.URL+"/ipc/invoke/is-first-run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply struct {
		OK     bool          `json:"ok"`
		Result FirstRunReply `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	require.True(t, reply.OK)
	require.True(t, reply.Result.FirstRun)
}

func TestServerInvokeErrors(t *testing.T) {
	ts := newTestServer(t, Registration{
		Handlers: map[string]HandlerFunc{
			"boom": func(context.Context, json.RawMessage) (any, error) { panic("no") },
		},
	}, nil)

	resp, err := http.Post(ts.URL+"/ipc/invoke/missing", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/ipc/invoke/boom", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/ipc/invoke/boom", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	var reply Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	require.False(t, reply.OK)
	require.Contains(t, reply.Error, "panicked")
}

func TestServerSend(t *testing.T) {
	got := make(chan RunRequest, 1)
	ts := newTestServer(t, Registration{
		Listeners: map[string]ListenerFunc{
			ChannelInvestRun: func(_ context.Context, payload json.RawMessage) {
				var req RunRequest
				_ = Decode(payload, &req)
				got <- req
			},
		},
	}, nil)

	body := `{"model_run_name":"carbon","args":{"workspace_dir":"/tmp/ws"}}`
	resp, err := http.Post(ts.URL+"/ipc/send/invest-run", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case req := <-got:
		require.Equal(t, "carbon", req.ModelRunName)
		require.Equal(t, "/tmp/ws", req.Args["workspace_dir"])
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}

	resp, err = http.Post(ts.URL+"/ipc/send/nope", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerVars(t *testing.T) {
	ts := newTestServer(t, Registration{}, nil)
	resp, err := http.Get(ts.URL + "/api/vars")
	require.NoError(t, err)
	defer resp.Body.Close()

	var vars Vars
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vars))
	require.Equal(t, "/opt/invest", vars.ExePath)
	require.Equal(t, "dev", vars.WorkbenchVersion)
}

func TestServerEvents(t *testing.T) {
	pub := events.NewInMemoryPublisher()
	defer pub.Close()
	ts := newTestServer(t, Registration{}, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/ipc/events?run_id=r1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return pub.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	pub.Publish(context.Background(), events.New(models.EventTypeRunLog, "other", nil))
	pub.Publish(context.Background(), events.New(models.EventTypeRunLog, "r1", map[string]any{"line": "hello"}))

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	require.Equal(t, string(models.EventTypeRunLog), eventLine)

	var event models.Event
	require.NoError(t, json.Unmarshal([]byte(dataLine), &event))
	require.Equal(t, "r1", event.RunID)
	require.Equal(t, "hello", event.Payload["line"])

	cancel()
	require.Eventually(t, func() bool { return pub.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServerListenServeShutdown(t *testing.T) {
	b := New()
	srv := NewServer(b, events.NewInMemoryPublisher(), Vars{})
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	require.NotEmpty(t, srv.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr() + "/api/vars")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-errCh)
	http.DefaultClient.CloseIdleConnections()
}
