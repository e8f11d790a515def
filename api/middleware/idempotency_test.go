package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	pkgredis "github.com/angelmondragon/storefront-cart/pkg/redis"
)

type fakeReplayStore struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	readErr error
}

func newFakeReplayStore() *fakeReplayStore {
	return &fakeReplayStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeReplayStore) Replay(_ context.Context, scope, id string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if v, ok := f.data[scope+"#"+id]; ok {
		return v, nil
	}
	return nil, pkgredis.ErrMissing
}

func (f *fakeReplayStore) Remember(_ context.Context, scope, id string, payload []byte, ttl time.Duration) (bool, error) {
	key := scope + "#" + id
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = payload
	f.ttls[key] = ttl
	return true, nil
}

// replayRouter mounts handler on POST /api/v1/cart/lines behind the session
// and idempotency middleware, the way the API router does.
func replayRouter(store IdempotencyStore, handler http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(CartSession(nil))
		r.With(Idempotent(store, nil, CartReplayTTL)).Post("/lines", handler)
	})
	return r
}

func postLine(h http.Handler, session, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/lines", strings.NewReader(body))
	req.Header.Set(SessionHeader, session)
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotentPassesThroughWithoutHeader(t *testing.T) {
	store := newFakeReplayStore()
	calls := 0
	h := replayRouter(store, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	postLine(h, "s1", "", `{"quantity":1}`)
	postLine(h, "s1", "", `{"quantity":1}`)
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.data)
}

func TestIdempotentReplaysStoredResponse(t *testing.T) {
	store := newFakeReplayStore()
	calls := 0
	h := replayRouter(store, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	first := postLine(h, "s1", "abc", `{"quantity":1}`)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(replayedHeader))

	again := postLine(h, "s1", "abc", `{"quantity":1}`)
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "application/json", again.Header().Get("Content-Type"))
	assert.Equal(t, "true", again.Header().Get(replayedHeader))
	assert.JSONEq(t, `{"ok":true}`, again.Body.String())
	assert.Equal(t, 1, calls)

	for _, ttl := range store.ttls {
		assert.Equal(t, CartReplayTTL, ttl)
	}
}

func TestIdempotentKeysAreScopedPerSession(t *testing.T) {
	store := newFakeReplayStore()
	calls := 0
	h := replayRouter(store, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	postLine(h, "s1", "abc", `{"quantity":1}`)
	postLine(h, "s2", "abc", `{"quantity":1}`)
	assert.Equal(t, 2, calls)
}

func TestIdempotentDoesNotStoreServerErrors(t *testing.T) {
	store := newFakeReplayStore()
	calls := 0
	h := replayRouter(store, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	postLine(h, "s1", "retry-me", `{"quantity":1}`)
	postLine(h, "s1", "retry-me", `{"quantity":1}`)
	assert.Equal(t, 2, calls, "failed responses must not be replayed")
}

func TestIdempotentRejectsBodyChange(t *testing.T) {
	store := newFakeReplayStore()
	h := replayRouter(store, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	postLine(h, "s1", "xyz", `{"quantity":1}`)
	rec := postLine(h, "s1", "xyz", `{"quantity":2}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var payload struct {
		Error struct {
			Code  string `json:"code"`
			Field string `json:"field"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, string(pkgerrors.CodeValidation), payload.Error.Code)
	assert.Equal(t, idempotencyHeader, payload.Error.Field)
}

func TestIdempotentStoreOutageIsUnavailable(t *testing.T) {
	store := newFakeReplayStore()
	store.readErr = errors.New("connection refused")
	h := replayRouter(store, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run when replays cannot be checked")
	})

	rec := postLine(h, "s1", "abc", `{"quantity":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIdempotentWithoutStoreIsTransparent(t *testing.T) {
	calls := 0
	h := replayRouter(nil, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})
	postLine(h, "s1", "abc", `{}`)
	postLine(h, "s1", "abc", `{}`)
	assert.Equal(t, 2, calls)
}
