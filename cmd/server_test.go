package cmd

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunServers(t *testing.T) {
	first, err := newNamedServer("first", "127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("first"))
	}))
	require.NoError(t, err)
	second, err := newNamedServer("second", "127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("second"))
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServers(ctx, first, second) }()

	for _, s := range []*namedServer{first, second} {
		var body []byte
		assert.Eventually(t, func() bool {
			resp, err := http.Get("http://" + s.listener.Addr().String())
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			body, err = io.ReadAll(resp.Body)
			return err == nil
		}, 2*time.Second, 50*time.Millisecond)
		assert.Equal(t, s.name, string(body))
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("servers did not shut down")
	}

	_, err = http.Get("http://" + first.listener.Addr().String())
	assert.Error(t, err)
}

func TestNewNamedServerListenError(t *testing.T) {
	taken, err := newNamedServer("taken", "127.0.0.1:0", http.NotFoundHandler())
	require.NoError(t, err)
	defer taken.listener.Close()

	_, err = newNamedServer("duplicate", taken.listener.Addr().String(), http.NotFoundHandler())

	assert.ErrorContains(t, err, "duplicate server: failed to listen on")
}
