package hyperliquid_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robinclaw/robinclaw/internal/hyperliquid"
)

// flakyVenue answers the first request on each path with 502 and then succeeds.
type flakyVenue struct {
	mu    sync.Mutex
	calls map[string]int
}

func newFlakyVenue(t *testing.T) (*flakyVenue, *httptest.Server) {
	t.Helper()
	fv := &flakyVenue{calls: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		fv.mu.Lock()
		fv.calls[r.URL.Path]++
		n := fv.calls[r.URL.Path]
		fv.mu.Unlock()

		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/info":
			_, _ = w.Write([]byte(`{"BTC":"65000"}`))
		default:
			_, _ = w.Write([]byte(`{"status":"err","response":"Nonce already used"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return fv, srv
}

func (fv *flakyVenue) count(path string) int {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	return fv.calls[path]
}

func TestInfoRetriesOnBadGateway(t *testing.T) {
	fv, srv := newFlakyVenue(t)
	c := hyperliquid.NewClient(hyperliquid.Config{BaseURL: srv.URL, Timeout: 2 * time.Second, RetryCount: 2})
	t.Cleanup(c.Close)

	mids, err := c.AllMids(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "65000", mids["BTC"])
	assert.Equal(t, 2, fv.count("/info"))
}

func TestExchangeIsNeverReplayed(t *testing.T) {
	fv, srv := newFlakyVenue(t)
	c := hyperliquid.NewClient(hyperliquid.Config{BaseURL: srv.URL, Timeout: 2 * time.Second, RetryCount: 2})
	t.Cleanup(c.Close)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	resp, err := c.Exchange(context.Background(), key, hyperliquid.NewCancelAction())
	require.Error(t, err, "a gateway error must surface instead of a replayed rejection")
	assert.Nil(t, resp)
	assert.Equal(t, 1, fv.count("/exchange"))
}
