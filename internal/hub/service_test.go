package hub

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/databus/internal/accessor"
	"github.com/hay-kot/databus/internal/bus/memory"
	"github.com/hay-kot/databus/internal/bus/wsbridge"
	"github.com/hay-kot/databus/internal/core/config"
	"github.com/hay-kot/databus/internal/core/messaging"
	"github.com/hay-kot/databus/internal/provider"
	"github.com/hay-kot/databus/internal/store/jsonfile"
)

var discard = zerolog.New(io.Discard)

func testConfig(t *testing.T, providers ...config.ProviderConfig) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Providers = providers
	return &cfg
}

func widgetsFetcher() provider.Fetcher {
	return provider.FetcherFunc(func(context.Context, string) ([]messaging.Item, error) {
		return []messaging.Item{{Raw: json.RawMessage(`{"id":1}`)}, {Raw: json.RawMessage(`{"id":2}`)}}, nil
	})
}

func widgets() config.ProviderConfig {
	return config.ProviderConfig{Store: "widgets", Version: 1, APIURL: "http://upstream.test/widgets"}
}

func startHub(t *testing.T, cfg *config.Config, opts ...Option) (*Service, *httptest.Server) {
	t.Helper()
	svc := New(cfg, discard, opts...)
	require.NoError(t, svc.Start(context.Background()))
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		_ = svc.Close()
		srv.Close()
	})
	return svc, srv
}

func bridgeURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + config.BridgePath
}

func waitProviders(t *testing.T, svc *Service) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, st := range svc.Status() {
			if st.Items == 0 && st.Error == "" {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_RemoteAccessor(t *testing.T) {
	cfg := testConfig(t, widgets())
	svc, srv := startHub(t, cfg, WithFetcher(widgetsFetcher()))
	waitProviders(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	local := memory.New(discard)
	defer func() { _ = local.Close() }()

	client, err := wsbridge.Dial(ctx, bridgeURL(srv), local, discard, wsbridge.DialOptions{})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	a := accessor.New(cfg.Providers[0].Channel(cfg.Namespace), local, discard)
	defer func() { _ = a.Close() }()
	require.NoError(t, a.Activate(ctx))

	snap, err := a.Wait(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Data, 2)
	assert.Nil(t, snap.Error)
}

func TestService_StartTwice(t *testing.T) {
	svc, _ := startHub(t, testConfig(t), WithFetcher(widgetsFetcher()))
	assert.ErrorIs(t, svc.Start(context.Background()), ErrAlreadyStarted)
}

func TestService_StartAfterClose(t *testing.T) {
	svc := New(testConfig(t), discard, WithFetcher(widgetsFetcher()))
	require.NoError(t, svc.Close())
	assert.ErrorIs(t, svc.Start(context.Background()), messaging.ErrClosed)
}

func TestService_StartInvalidProvider(t *testing.T) {
	bad := widgets()
	bad.APIURL = "ftp://upstream.test"
	cfg := testConfig(t, widgets(), bad)

	svc := New(cfg, discard, WithFetcher(widgetsFetcher()))
	defer func() { _ = svc.Close() }()

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers[1]")
	assert.Empty(t, svc.Status())
}

func TestService_Healthz(t *testing.T) {
	cfg := testConfig(t, widgets())
	svc, srv := startHub(t, cfg, WithFetcher(widgetsFetcher()))
	waitProviders(t, svc)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status    string           `json:"status"`
		Clients   int              `json:"clients"`
		Providers []ProviderStatus `json:"providers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0, body.Clients)
	require.Len(t, body.Providers, 1)
	assert.Equal(t, "company/widgets/v1", body.Providers[0].Channel)
	assert.Equal(t, 2, body.Providers[0].Items)
}

func TestService_Snapshots(t *testing.T) {
	cfg := testConfig(t, widgets())
	svc, srv := startHub(t, cfg, WithFetcher(widgetsFetcher()))
	waitProviders(t, svc)

	resp, err := http.Get(srv.URL + "/snapshots")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body map[string]messaging.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body, "company/widgets/v1")
	assert.Len(t, body["company/widgets/v1"].Data, 2)
}

func TestService_JournalRecordsResponses(t *testing.T) {
	cfg := testConfig(t, widgets())
	journal := jsonfile.NewJournal(cfg.JournalDir())
	svc, _ := startHub(t, cfg, WithFetcher(widgetsFetcher()), WithJournal(journal))
	waitProviders(t, svc)

	require.NoError(t, svc.Close())

	recs, err := journal.Read(context.Background(), "company/widgets/v1/response", time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	env, err := recs[len(recs)-1].Decode()
	require.NoError(t, err)
	require.NotNil(t, env.Payload)
	assert.Len(t, env.Payload.Data, 2)
}

func TestService_JournalDisabled(t *testing.T) {
	cfg := testConfig(t, widgets())
	cfg.Journal.Enabled = false
	journal := jsonfile.NewJournal(cfg.JournalDir())
	svc, _ := startHub(t, cfg, WithFetcher(widgetsFetcher()), WithJournal(journal))
	waitProviders(t, svc)
	require.NoError(t, svc.Close())

	_, err := journal.Read(context.Background(), "**", time.Time{})
	assert.ErrorIs(t, err, messaging.ErrNoRecords)
}

func TestService_ActivityRecorded(t *testing.T) {
	cfg := testConfig(t, widgets())
	store := jsonfile.NewActivityStore(cfg.ActivityDir())
	svc, _ := startHub(t, cfg, WithFetcher(widgetsFetcher()), WithActivity(store))
	waitProviders(t, svc)
	require.NoError(t, svc.Close())

	got, err := store.Query(messaging.ActivityQuery{Channel: "company/widgets/*"})
	require.NoError(t, err)
	require.NotEmpty(t, got)

	var types []messaging.ActivityType
	for _, a := range got {
		types = append(types, a.Type)
	}
	assert.Contains(t, types, messaging.ActivityFetchStarted)
	assert.Contains(t, types, messaging.ActivityFetchSucceeded)
}

func TestService_ServeStopsOnCancel(t *testing.T) {
	svc := New(testConfig(t, widgets()), discard, WithFetcher(widgetsFetcher()))
	require.NoError(t, svc.Start(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestService_CloseIsIdempotent(t *testing.T) {
	svc, _ := startHub(t, testConfig(t, widgets()), WithFetcher(widgetsFetcher()))
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
}
