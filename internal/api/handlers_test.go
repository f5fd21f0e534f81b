package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/threadgate/internal/auth"
	"github.com/mattjoyce/threadgate/internal/directory"
	"github.com/mattjoyce/threadgate/internal/events"
	"github.com/mattjoyce/threadgate/internal/log"
	"github.com/mattjoyce/threadgate/internal/notify"
	"github.com/mattjoyce/threadgate/internal/plugin"
	"github.com/mattjoyce/threadgate/internal/storage"
	"github.com/mattjoyce/threadgate/internal/thread"
	"github.com/mattjoyce/threadgate/internal/threads"
	"github.com/mattjoyce/threadgate/internal/visibility"
)

type recordingNotifier struct {
	routed []notify.ThreadRoutedV1
}

func (n *recordingNotifier) ThreadRouted(_ context.Context, ev notify.ThreadRoutedV1, _ string) error {
	n.routed = append(n.routed, ev)
	return nil
}

type fixture struct {
	handler  http.Handler
	threads  *threads.Store
	hub      *events.Hub
	notifier *recordingNotifier
	o1, o2   *thread.Operator
	boss     *thread.Operator
}

const (
	visitorToken = "visitor-token"
	o1Token      = "o1-token"
	o2Token      = "o2-token"
	bossToken    = "boss-token"
	ghostToken   = "ghost-token"
	readerToken  = "reader-token"
)

func newFixture(t *testing.T, cfg visibility.Config) *fixture {
	t.Helper()
	return newFixtureWithFilter(t, &cfg)
}

// newFixtureWithFilter builds the server as system start does. A nil cfg
// leaves the filter plugin disabled.
func newFixtureWithFilter(t *testing.T, cfg *visibility.Config) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "threadgate.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ops := directory.NewStore(db)
	o1, err := ops.Add(ctx, directory.AddRequest{Login: "o1", Code: "ONE"})
	if err != nil {
		t.Fatalf("Add o1: %v", err)
	}
	o2, err := ops.Add(ctx, directory.AddRequest{Login: "o2", Code: "TWO"})
	if err != nil {
		t.Fatalf("Add o2: %v", err)
	}
	boss, err := ops.Add(ctx, directory.AddRequest{Login: "boss", Permissions: thread.Permissions(0).With(thread.CanViewThreads)})
	if err != nil {
		t.Fatalf("Add boss: %v", err)
	}

	ts := threads.NewStore(db)
	hub := events.NewHub(32)
	d := events.NewDispatcher()
	if cfg != nil {
		p, err := plugin.New(*cfg, ts, plugin.WithPublisher(hub), plugin.WithLogger(log.Discard()))
		if err != nil {
			t.Fatalf("plugin.New: %v", err)
		}
		p.Run(d)
	}

	notifier := &recordingNotifier{}
	srv := New(Config{
		Tokens: []auth.TokenConfig{
			{Token: visitorToken, Scopes: []string{auth.ScopeThreadsRW}},
			{Token: o1Token, OperatorID: o1.ID, Scopes: []string{auth.ScopeThreadsRW}},
			{Token: o2Token, OperatorID: o2.ID, Scopes: []string{auth.ScopeThreadsRW}},
			{Token: bossToken, OperatorID: boss.ID, Scopes: []string{auth.ScopeAll}},
			{Token: ghostToken, OperatorID: 999, Scopes: []string{auth.ScopeThreadsRO}},
			{Token: readerToken, Scopes: []string{auth.ScopeEventsRO}},
		},
		Visibility: cfg,
	}, ts, ops, d, hub, notifier, log.Discard())

	return &fixture{handler: srv.Handler(), threads: ts, hub: hub, notifier: notifier, o1: o1, o2: o2, boss: boss}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) openThread(t *testing.T, user, code string) int64 {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/threads", visitorToken, CreateThreadRequest{UserName: user, OperatorCode: code})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /threads = %d: %s", rec.Code, rec.Body.String())
	}
	var resp CreateThreadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.ThreadID
}

func (f *fixture) pendingIDs(t *testing.T, token string) []int64 {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/threads/pending", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /threads/pending = %d: %s", rec.Code, rec.Body.String())
	}
	// The threads field must be an array, never an object or null.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(raw["threads"]), "[") {
		t.Fatalf("threads is not a JSON array: %s", raw["threads"])
	}
	var resp PendingThreadsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	ids := []int64{}
	for _, s := range resp.Threads {
		ids = append(ids, s.ID)
	}
	return ids
}

// seed opens the four threads of the reference scenario: unassigned, routed
// to o2, routed to o1, and an active thread routed to o2.
func (f *fixture) seed(t *testing.T) []int64 {
	t.Helper()
	ids := []int64{
		f.openThread(t, "v1", ""),
		f.openThread(t, "v2", "TWO"),
		f.openThread(t, "v3", "ONE"),
		f.openThread(t, "v4", "TWO"),
	}
	if err := f.threads.Assign(context.Background(), ids[3], thread.StateChatting, f.o2.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	return ids
}

func TestPendingThreadsFilteredPerOperator(t *testing.T) {
	f := newFixture(t, visibility.Config{})
	ids := f.seed(t)

	assert.Equal(t, []int64{ids[0], ids[2], ids[3]}, f.pendingIDs(t, o1Token))
	assert.Equal(t, []int64{ids[0], ids[1], ids[3]}, f.pendingIDs(t, o2Token))
	assert.Equal(t, ids, f.pendingIDs(t, bossToken))
}

func TestPendingThreadsEnabledForSupervisors(t *testing.T) {
	f := newFixture(t, visibility.Config{EnableForSupervisors: true})
	ids := f.seed(t)

	assert.Equal(t, []int64{ids[0], ids[3]}, f.pendingIDs(t, bossToken))
}

func TestPendingThreadsWithoutOperatorUnfiltered(t *testing.T) {
	f := newFixture(t, visibility.Config{EnableForSupervisors: true})
	ids := f.seed(t)

	// Service token without operator, and a token bound to a missing operator.
	assert.Equal(t, ids, f.pendingIDs(t, visitorToken))
	assert.Equal(t, ids, f.pendingIDs(t, ghostToken))
}

func TestPendingThreadsEmpty(t *testing.T) {
	f := newFixture(t, visibility.Config{})
	assert.Equal(t, []int64{}, f.pendingIDs(t, o1Token))
}

func TestCreateThreadWithOperatorCode(t *testing.T) {
	f := newFixture(t, visibility.Config{})

	id := f.openThread(t, "visitor", "ONE")

	loaded, err := f.threads.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assert.Equal(t, f.o1.ID, loaded.NextAgent)
	if assert.Len(t, f.notifier.routed, 1) {
		assert.Equal(t, id, f.notifier.routed[0].ThreadID)
		assert.Equal(t, "ONE", f.notifier.routed[0].OperatorCode)
	}

	var kinds []string
	for _, r := range f.hub.Since(0) {
		kinds = append(kinds, r.Type)
	}
	assert.Equal(t, []string{events.ThreadRouted}, kinds)
}

func TestCreateThreadErrors(t *testing.T) {
	f := newFixture(t, visibility.Config{})

	rec := f.do(t, http.MethodPost, "/threads", visitorToken, CreateThreadRequest{OperatorCode: "NOPE"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/threads", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+visitorToken)
	bad := httptest.NewRecorder()
	f.handler.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	assert.Empty(t, f.notifier.routed)
}

func TestTakeThread(t *testing.T) {
	f := newFixture(t, visibility.Config{})
	ids := f.seed(t)

	tests := []struct {
		name  string
		token string
		path  string
		want  int
	}{
		{name: "routed elsewhere", token: o1Token, path: "/threads/" + itoa(ids[1]) + "/take", want: http.StatusForbidden},
		{name: "not queued", token: o1Token, path: "/threads/" + itoa(ids[3]) + "/take", want: http.StatusConflict},
		{name: "missing", token: o1Token, path: "/threads/9999/take", want: http.StatusNotFound},
		{name: "bad id", token: o1Token, path: "/threads/abc/take", want: http.StatusBadRequest},
		{name: "no operator session", token: visitorToken, path: "/threads/" + itoa(ids[0]) + "/take", want: http.StatusForbidden},
		{name: "own routed thread", token: o1Token, path: "/threads/" + itoa(ids[2]) + "/take", want: http.StatusOK},
		{name: "supervisor takes routed thread", token: bossToken, path: "/threads/" + itoa(ids[1]) + "/take", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	taken, err := f.threads.Load(context.Background(), ids[2])
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assert.Equal(t, thread.StateChatting, taken.State)
	assert.Equal(t, f.o1.ID, taken.AgentID)
}

func TestTakeRoutedThreadWithFilterDisabled(t *testing.T) {
	f := newFixtureWithFilter(t, nil)
	routed := f.openThread(t, "v1", "TWO")

	// The list is unfiltered, so the thread routed to o2 is visible to o1.
	assert.Equal(t, []int64{routed}, f.pendingIDs(t, o1Token))

	rec := f.do(t, http.MethodPost, "/threads/"+itoa(routed)+"/take", o1Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	taken, err := f.threads.Load(context.Background(), routed)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assert.Equal(t, f.o1.ID, taken.AgentID)
	for _, r := range f.hub.Since(0) {
		assert.NotEqual(t, events.ThreadsFiltered, r.Type, "no filter reports without the plugin")
	}
}

func TestAuthAndScopes(t *testing.T) {
	f := newFixture(t, visibility.Config{})

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/threads/pending", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/threads/pending", "wrong", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/threads/pending", readerToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/threads", ghostToken, CreateThreadRequest{}).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil).Code)
}

func TestEventsStreamReplaysFilterReports(t *testing.T) {
	f := newFixture(t, visibility.Config{})
	f.seed(t)
	f.pendingIDs(t, o1Token)

	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+readerToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var seen []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			seen = append(seen, strings.TrimPrefix(line, "event: "))
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, `"hidden"`) {
			var report plugin.FilterReport
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &report); err != nil {
				t.Fatalf("decode report: %v", err)
			}
			assert.Equal(t, f.o1.ID, report.OperatorID)
			assert.Equal(t, 4, report.Before)
			assert.Equal(t, 3, report.After)
			break
		}
	}
	// Three routed threads, then the filter report.
	assert.Equal(t, []string{events.ThreadRouted, events.ThreadRouted, events.ThreadRouted, events.ThreadsFiltered}, seen)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
