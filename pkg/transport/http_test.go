package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonlabs/mcpbridge/pkg/jsonrpc"
)

func TestHTTPPeer_ListTools(t *testing.T) {
	catalog := `{"tools":[{"name":"search","description":"Full-text search."}]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/tools", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, catalog)
	}))
	defer srv.Close()

	peer := NewHTTPPeer(HTTPConfig{Backend: "elasticsearch", BaseURL: srv.URL})
	require.NoError(t, peer.Start(context.Background()))

	result, err := peer.Send(context.Background(), jsonrpc.MethodToolsList, nil, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, catalog, string(result))
}

func TestHTTPPeer_CallTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tools/search", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"index":"notes","q":"fever"}`, string(body))

		_, _ = io.WriteString(w, `{"success":true,"result":{"hits":[{"_id":"n-1"}]}}`)
	}))
	defer srv.Close()

	peer := NewHTTPPeer(HTTPConfig{Backend: "elasticsearch", BaseURL: srv.URL})

	result, err := peer.Send(context.Background(), jsonrpc.MethodToolsCall, jsonrpc.CallParams{
		Name:      "search",
		Arguments: map[string]interface{}{"index": "notes", "q": "fever"},
	}, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hits":[{"_id":"n-1"}]}`, string(result))
}

func TestHTTPPeer_CallToolFailureEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"error":"index does not exist"}`)
	}))
	defer srv.Close()

	peer := NewHTTPPeer(HTTPConfig{Backend: "elasticsearch", BaseURL: srv.URL})

	_, err := peer.Send(context.Background(), jsonrpc.MethodToolsCall, jsonrpc.CallParams{
		Name: "search",
	}, time.Second)

	var rpcErr *jsonrpc.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "index does not exist", rpcErr.Message)
}

func TestHTTPPeer_InitializeIsLocal(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	peer := NewHTTPPeer(HTTPConfig{Backend: "elasticsearch", BaseURL: srv.URL})

	result, err := peer.Send(context.Background(), jsonrpc.MethodInitialize, nil, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(result))
	assert.EqualValues(t, 0, hits.Load(), "initialize must not touch the network")
}

func TestHTTPPeer_WaitReadyProbesEndpoint(t *testing.T) {
	t.Run("live endpoint", func(t *testing.T) {
		var hits atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			assert.Equal(t, "/tools", r.URL.Path)
			_, _ = io.WriteString(w, `{"tools":[]}`)
		}))
		defer srv.Close()

		peer := NewHTTPPeer(HTTPConfig{Backend: "elasticsearch", BaseURL: srv.URL})
		require.NoError(t, peer.WaitReady(context.Background()))
		assert.EqualValues(t, 1, hits.Load())
	})

	t.Run("dead endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		peer := NewHTTPPeer(HTTPConfig{Backend: "elasticsearch", BaseURL: url})
		err := peer.WaitReady(context.Background())
		assert.ErrorContains(t, err, "endpoint probe failed")
	})

	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		peer := NewHTTPPeer(HTTPConfig{Backend: "elasticsearch", BaseURL: srv.URL})
		err := peer.WaitReady(context.Background())
		assert.ErrorContains(t, err, "endpoint probe failed")
	})
}

func TestHTTPPeer_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"q":"retry me"}`, string(body))
		_, _ = io.WriteString(w, `{"success":true,"result":{"count":1}}`)
	}))
	defer srv.Close()

	peer := NewHTTPPeer(HTTPConfig{Backend: "elasticsearch", BaseURL: srv.URL, MaxRetries: 2})

	result, err := peer.Send(context.Background(), jsonrpc.MethodToolsCall, jsonrpc.CallParams{
		Name:      "search",
		Arguments: map[string]interface{}{"q": "retry me"},
	}, 10*time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":1}`, string(result))
	assert.EqualValues(t, 2, attempts.Load())
}

func TestHTTPPeer_StopRejectsSends(t *testing.T) {
	peer := NewHTTPPeer(HTTPConfig{Backend: "elasticsearch", BaseURL: "http://localhost:0"})
	require.NoError(t, peer.Stop(context.Background()))

	_, err := peer.Send(context.Background(), jsonrpc.MethodToolsList, nil, time.Second)
	assert.ErrorIs(t, err, ErrPeerClosed)

	select {
	case <-peer.Done():
	default:
		t.Fatal("Done must be closed after Stop")
	}

	// Stop is idempotent.
	require.NoError(t, peer.Stop(context.Background()))
}

func TestHTTPPeer_UnsupportedMethod(t *testing.T) {
	peer := NewHTTPPeer(HTTPConfig{Backend: "elasticsearch", BaseURL: "http://localhost:0"})
	_, err := peer.Send(context.Background(), "resources/list", nil, time.Second)
	assert.Error(t, err)
}

func TestHTTPPeer_EndpointTrimsTrailingSlash(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = io.WriteString(w, `{"tools":[]}`)
	}))
	defer srv.Close()

	peer := NewHTTPPeer(HTTPConfig{Backend: "elasticsearch", BaseURL: srv.URL + "/"})

	_, err := peer.Send(context.Background(), jsonrpc.MethodToolsList, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/tools", gotPath)
}

func TestHTTPPeer_CallToolEscapesName(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = io.WriteString(w, `{"success":true,"result":{}}`)
	}))
	defer srv.Close()

	peer := NewHTTPPeer(HTTPConfig{Backend: "elasticsearch", BaseURL: srv.URL})

	_, err := peer.Send(context.Background(), jsonrpc.MethodToolsCall, jsonrpc.CallParams{
		Name: "weird/tool name",
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/tools/weird%2Ftool%20name", gotPath)
}

func TestHTTPPeer_MalformedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	defer srv.Close()

	peer := NewHTTPPeer(HTTPConfig{Backend: "elasticsearch", BaseURL: srv.URL})

	_, err := peer.Send(context.Background(), jsonrpc.MethodToolsCall, jsonrpc.CallParams{Name: "search"}, time.Second)
	assert.ErrorContains(t, err, "failed to parse tool response")
}
