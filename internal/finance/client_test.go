package finance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/finsync/internal/cache"
	"github.com/Aidin1998/finsync/internal/scheduler"
	"github.com/Aidin1998/finsync/internal/syncbus"
	"github.com/Aidin1998/finsync/pkg/validation"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []syncbus.SyncEvent
}

func (p *capturePublisher) Publish(evt syncbus.SyncEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *capturePublisher) Events() []syncbus.SyncEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]syncbus.SyncEvent(nil), p.events...)
}

type fixture struct {
	client  *Client
	pub     *capturePublisher
	backend *cache.MemoryBackend
}

func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := cache.NewMemoryBackend(clockwork.NewRealClock())
	cfg := scheduler.DefaultConfig()
	cfg.RequestsPerSecond = 100
	cfg.BaseBackoff = 5 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond
	cfg.RecheckInterval = 5 * time.Millisecond
	sched, err := scheduler.New(cfg, backend,
		scheduler.WithLogger(zaptest.NewLogger(t)),
		scheduler.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(sched.Stop)

	pub := &capturePublisher{}
	logger := zaptest.NewLogger(t)
	client, err := NewClient(Config{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
		MaxRetries:     2,
		Token:          "secret",
	}, sched, pub, WithClientLogger(logger), WithValidator(validation.NewValidator(logger)))
	require.NoError(t, err)
	return &fixture{client: client, pub: pub, backend: backend}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"}, &scheduler.Scheduler{}, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "http://localhost"}, nil, nil)
	assert.Error(t, err)
}

func TestReadsAreCachedUnderGroupKey(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /accounts", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []Account{{ID: "a1", Name: "Checking", Currency: "USD", Balance: decimal.RequireFromString("10.50")}})
	})
	f := newFixture(t, mux)
	ctx := context.Background()

	first, err := f.client.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, first[0].Balance.Equal(decimal.RequireFromString("10.5")))

	second, err := f.client.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load())

	_, ok, err := f.backend.Get(ctx, GroupAccounts)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemberReadsUseGroupPrefix(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /accounts/{id}/transactions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []Transaction{{ID: "t1", AccountID: r.PathValue("id"), Currency: "EUR"}})
	})
	f := newFixture(t, mux)
	ctx := context.Background()

	txs, err := f.client.Transactions(ctx, "acc-7")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "acc-7", txs[0].AccountID)

	q := cache.NewQueryCache(f.backend)
	require.NoError(t, q.Invalidate(ctx, GroupTransactions))
	_, ok, err := f.backend.Get(ctx, "transactions:acc-7")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /budgets", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, []Budget{{ID: "b1", Limit: decimal.NewFromInt(300)}})
	})
	f := newFixture(t, mux)

	budgets, err := f.client.Budgets(context.Background())
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /trips", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	f := newFixture(t, mux)

	_, err := f.client.Trips(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.True(t, scheduler.IsPermanent(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestCreateTransactionPublishesEvent(t *testing.T) {
	var keys []string
	var mu sync.Mutex
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transactions", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var tx Transaction
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&tx))
		tx.ID = "tx-1"
		writeJSON(w, http.StatusCreated, tx)
	})
	f := newFixture(t, mux)

	created, err := f.client.CreateTransaction(context.Background(), Transaction{
		AccountID:   "acc-1",
		Amount:      decimal.RequireFromString("-42.10"),
		Currency:    "USD",
		Description: "<b>Groceries</b>",
		BookedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-1", created.ID)
	assert.Equal(t, "Groceries", created.Description)

	mu.Lock()
	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, keys[0], keys[1])
	mu.Unlock()

	events := f.pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, syncbus.EntityTransaction, events[0].Type)
	assert.Equal(t, syncbus.ActionCreate, events[0].Action)
	assert.Equal(t, "tx-1", events[0].EntityID)
}

func TestInvalidWriteNeverReachesBackend(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })
	f := newFixture(t, mux)

	_, err := f.client.UpsertBudget(context.Background(), Budget{
		CategoryID: "cat-1",
		Name:       "Food",
		Limit:      decimal.Zero,
		Currency:   "usd",
		Period:     "daily",
	})
	var verrs validation.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	tags := map[string]string{}
	for _, e := range verrs {
		tags[e.Field] = e.Tag
	}
	assert.Equal(t, "gt", tags["Limit"])
	assert.Equal(t, "currency_code", tags["Currency"])
	assert.Equal(t, "oneof", tags["Period"])
	assert.Zero(t, calls.Load())
	assert.Empty(t, f.pub.Events())
}

func TestFailedWriteDoesNotPublish(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	})
	f := newFixture(t, mux)

	err := f.client.DeleteTransaction(context.Background(), "tx-9")
	require.Error(t, err)
	assert.Empty(t, f.pub.Events())
}

func TestDeleteAndImportEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /transactions/import", func(w http.ResponseWriter, r *http.Request) {
		var txs []Transaction
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&txs))
		writeJSON(w, http.StatusOK, map[string]int{"imported": len(txs)})
	})
	f := newFixture(t, mux)
	ctx := context.Background()

	require.NoError(t, f.client.DeleteTransaction(ctx, "tx-9"))
	n, err := f.client.ImportTransactions(ctx, []Transaction{
		{AccountID: "a", Amount: decimal.NewFromInt(1), Currency: "USD", BookedAt: time.Now()},
		{AccountID: "a", Amount: decimal.NewFromInt(2), Currency: "USD", BookedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events := f.pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, syncbus.ActionDelete, events[0].Action)
	assert.Equal(t, "tx-9", events[0].EntityID)
	assert.Equal(t, syncbus.EntityBulkOperation, events[1].Type)
}

func TestLoadersRefetchIntoTypedReads(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /categories", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, []Category{{ID: "c1", Name: "Groceries"}})
	})
	f := newFixture(t, mux)
	ctx := context.Background()

	q := cache.NewQueryCache(f.backend)
	f.client.RegisterLoaders(q, time.Minute)
	assert.Contains(t, q.Groups(), GroupCategories)
	assert.Len(t, q.Groups(), len(groupPaths))

	require.NoError(t, q.Refetch(ctx, GroupCategories))
	assert.False(t, q.Stale(GroupCategories))

	cats, err := f.client.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Category{{ID: "c1", Name: "Groceries"}}, cats)
	assert.EqualValues(t, 1, calls.Load())
}

func TestResolveCategory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /categories", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []Category{
			{ID: "c1", Name: "Groceries"},
			{ID: "c2", Name: "Eating Out"},
			{ID: "c3", Name: "Transport"},
		})
	})
	f := newFixture(t, mux)
	ctx := context.Background()

	cat, err := f.client.ResolveCategory(ctx, "eating  out")
	require.NoError(t, err)
	assert.Equal(t, "c2", cat.ID)

	cat, err = f.client.ResolveCategory(ctx, "Grocerys")
	require.NoError(t, err)
	assert.Equal(t, "c1", cat.ID)

	_, err = f.client.ResolveCategory(ctx, "Rent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBudgetProgressExceeded(t *testing.T) {
	p := BudgetProgress{Limit: decimal.NewFromInt(100), Spent: decimal.RequireFromString("100.01")}
	assert.True(t, p.Exceeded())
	p.Spent = decimal.NewFromInt(100)
	assert.False(t, p.Exceeded())
}
