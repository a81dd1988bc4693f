package bridge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonlabs/mcpbridge/pkg/config"
	"github.com/axonlabs/mcpbridge/pkg/dispatcher"
	"github.com/axonlabs/mcpbridge/pkg/instruction"
	"github.com/axonlabs/mcpbridge/pkg/supervisor"
)

// newToolServer serves the REST tool protocol for one search tool.
func newToolServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"tools":[{"name":"search","description":"Full-text search."}]}`)
	})
	mux.HandleFunc("POST /tools/search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"result":{"hits":[{"_id":"n-1","title":"fever workup"}]}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestBridge(t *testing.T, url string, opts ...Option) *Bridge {
	t.Helper()
	cfg, err := config.LoadFromMap(map[string]interface{}{
		"backends": map[string]interface{}{
			"elasticsearch": map[string]interface{}{
				"url":   url,
				"eager": true,
			},
		},
	})
	require.NoError(t, err)

	br, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = br.Shutdown(context.Background()) })
	return br
}

func TestNew_Validation(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})

	t.Run("unsupported transport", func(t *testing.T) {
		cfg := &config.Config{Backends: map[string]*config.BackendConfig{
			"weird": {Name: "weird", Transport: "grpc"},
		}}
		_, err := New(cfg)
		assert.ErrorContains(t, err, "unsupported transport")
	})
}

func TestBridge_ConnectAndCatalog(t *testing.T) {
	srv := newToolServer(t)
	br := newTestBridge(t, srv.URL)

	require.NoError(t, br.Connect(context.Background(), "elasticsearch"))

	sup, ok := br.Supervisor("es")
	require.True(t, ok, "alias must reach the supervisor")
	assert.Equal(t, supervisor.StateReady, sup.State())

	tools := br.Registry().Tools("es")
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name)
}

func TestBridge_ConnectEager(t *testing.T) {
	srv := newToolServer(t)
	br := newTestBridge(t, srv.URL)

	require.NoError(t, br.ConnectEager(context.Background()))

	sup, _ := br.Supervisor("elasticsearch")
	assert.Equal(t, supervisor.StateReady, sup.State())
}

func TestBridge_ConnectDeadEndpointFails(t *testing.T) {
	srv := newToolServer(t)
	url := srv.URL
	srv.Close()

	br := newTestBridge(t, url)

	assert.Error(t, br.Connect(context.Background(), "elasticsearch"))

	sup, _ := br.Supervisor("elasticsearch")
	assert.NotEqual(t, supervisor.StateReady, sup.State())
}

func TestBridge_ProcessPassThrough(t *testing.T) {
	srv := newToolServer(t)
	br := newTestBridge(t, srv.URL)

	text := "The labs are unremarkable. Nothing to look up."
	cleaned, result := br.Process(context.Background(), instruction.ModelResponse{Text: text})

	assert.Equal(t, text, cleaned)
	assert.Nil(t, result)
}

func TestBridge_ProcessDispatchesDirective(t *testing.T) {
	srv := newToolServer(t)

	var started []string
	br := newTestBridge(t, srv.URL, WithHooks(dispatcher.Hooks{
		OnToolStart: func(backend, tool string) {
			started = append(started, backend+"/"+tool)
		},
	}))

	text := "Let me search.\n" +
		"```json\n" +
		`{"target":"es","tool":"search","params":{"index":"notes","q":"fever"}}` +
		"\n```"

	cleaned, result := br.Process(context.Background(), instruction.ModelResponse{Text: text})

	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "elasticsearch", result.Backend)
	assert.Contains(t, result.Summary, "1 document(s)")

	assert.Equal(t, "Let me search.", cleaned)
	assert.Equal(t, []string{"elasticsearch/search"}, started)
}

func TestBridge_ProcessUnknownBackend(t *testing.T) {
	srv := newToolServer(t)
	br := newTestBridge(t, srv.URL)

	text := `{"target":"postgres","tool":"query","params":{}}`
	cleaned, result := br.Process(context.Background(), instruction.ModelResponse{Text: text})

	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, dispatcher.KindUnknownBackend, result.Kind)
	assert.Empty(t, cleaned, "the failed directive must still be stripped")
}

func TestBridge_ShutdownDisconnects(t *testing.T) {
	srv := newToolServer(t)
	br := newTestBridge(t, srv.URL)

	require.NoError(t, br.Connect(context.Background(), "elasticsearch"))
	require.NoError(t, br.Shutdown(context.Background()))

	sup, _ := br.Supervisor("elasticsearch")
	assert.Equal(t, supervisor.StateDisconnected, sup.State())
}

func TestBridge_RefreshCatalog(t *testing.T) {
	srv := newToolServer(t)
	br := newTestBridge(t, srv.URL)

	require.NoError(t, br.Connect(context.Background(), "elasticsearch"))
	require.NoError(t, br.RefreshCatalog(context.Background(), "es"))

	assert.Error(t, br.RefreshCatalog(context.Background(), "postgres"))
}
