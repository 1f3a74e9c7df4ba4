package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog_etl/config"
)

func TestNewClients_SetsUserAgentAndTimeout(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	clients, err := NewClients(&config.SourceConfig{Timeout: 3 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, clients.Source.Timeout)
	assert.Equal(t, 15*time.Second, clients.Alert.Timeout)

	resp, err := clients.Source.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, userAgent, gotUA)
}

func TestNewClients_KeepsCallerUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	clients, err := NewClients(&config.SourceConfig{Timeout: time.Second})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "custom/2.0")
	resp, err := clients.Source.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "custom/2.0", gotUA)
}

func TestNewClients_BadProxy(t *testing.T) {
	_, err := NewClients(&config.SourceConfig{ProxyURL: "://no-scheme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse proxy url")
}
