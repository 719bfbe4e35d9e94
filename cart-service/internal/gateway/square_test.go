package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/storefront/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSquare(t *testing.T, handler http.HandlerFunc) *SquareClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewSquareClient(SquareConfig{
		BaseURL:     srv.URL,
		AccessToken: "sandbox-token",
		APIVersion:  "2024-10-17",
		LocationIDs: []string{"L1", "L2"},
		Timeout:     2 * time.Second,
	}, logger.Discard())
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestSquareClient_QueryStock(t *testing.T) {
	client := newTestSquare(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, batchRetrieveCountsPath, r.URL.Path)
		assert.Equal(t, "Bearer sandbox-token", r.Header.Get("Authorization"))
		assert.Equal(t, "2024-10-17", r.Header.Get("Square-Version"))

		var req batchRetrieveCountsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b", "c"}, req.CatalogObjectIDs)
		assert.Equal(t, []string{"L1", "L2"}, req.LocationIDs)
		assert.Equal(t, []string{"IN_STOCK"}, req.States)

		writeJSON(w, http.StatusOK, `{"counts":[
			{"catalog_object_id":"a","state":"IN_STOCK","location_id":"L1","quantity":"2"},
			{"catalog_object_id":"a","state":"IN_STOCK","location_id":"L2","quantity":"1.5"},
			{"catalog_object_id":"b","state":"IN_STOCK","location_id":"L1","quantity":"-3"},
			{"catalog_object_id":"b","state":"WASTE","location_id":"L1","quantity":"9"},
			{"catalog_object_id":"zzz","state":"IN_STOCK","location_id":"L1","quantity":"9"}
		]}`)
	})

	stock, err := client.QueryStock(context.Background(), []string{"c", "a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 3, "b": 0}, stock)
	_, ok := stock["c"]
	assert.False(t, ok, "unknown ids are left out")
}

func TestSquareClient_Pagination(t *testing.T) {
	var calls int32
	client := newTestSquare(t, func(w http.ResponseWriter, r *http.Request) {
		var req batchRetrieveCountsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if atomic.AddInt32(&calls, 1) == 1 {
			assert.Empty(t, req.Cursor)
			writeJSON(w, http.StatusOK, `{"counts":[{"catalog_object_id":"a","state":"IN_STOCK","quantity":"4"}],"cursor":"next"}`)
			return
		}
		assert.Equal(t, "next", req.Cursor)
		writeJSON(w, http.StatusOK, `{"counts":[{"catalog_object_id":"b","state":"IN_STOCK","quantity":"6"}]}`)
	})

	stock, err := client.QueryStock(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 4, "b": 6}, stock)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSquareClient_ErrorStatus(t *testing.T) {
	client := newTestSquare(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED","detail":"bad token"}]}`)
	})

	_, err := client.QueryStock(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorContains(t, err, "status 401")
	assert.ErrorContains(t, err, "UNAUTHORIZED")
}

func TestSquareClient_EmptyIDsSkipsRequest(t *testing.T) {
	var calls int32
	client := newTestSquare(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	stock, err := client.QueryStock(context.Background(), []string{"", ""})
	require.NoError(t, err)
	assert.Empty(t, stock)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestSquareClient_ContextCancelled(t *testing.T) {
	client := newTestSquare(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.QueryStock(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSquareClient_SharedFetchOutlivesCancelledCaller(t *testing.T) {
	var calls int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	client := newTestSquare(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-release
		writeJSON(w, http.StatusOK, `{"counts":[{"catalog_object_id":"a","state":"IN_STOCK","quantity":"5"}]}`)
	})

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := client.QueryStock(first, []string{"a"})
		firstErr <- err
	}()
	<-started

	type result struct {
		stock map[string]int
		err   error
	}
	second := make(chan result, 1)
	go func() {
		stock, err := client.QueryStock(context.Background(), []string{"a"})
		second <- result{stock, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, map[string]int{"a": 5}, res.stock)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSquareClient_RepeatedCursorStops(t *testing.T) {
	var calls int32
	client := newTestSquare(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusOK, `{"counts":[],"cursor":"same"}`)
	})

	_, err := client.QueryStock(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSquareClient_ResultIsPerCaller(t *testing.T) {
	client := newTestSquare(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"counts":[{"catalog_object_id":"a","state":"IN_STOCK","quantity":"1"}]}`)
	})

	first, err := client.QueryStock(context.Background(), []string{"a"})
	require.NoError(t, err)
	first["a"] = 100

	second, err := client.QueryStock(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, second["a"])
}
