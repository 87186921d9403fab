package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"cropledger/internal/cloud"
	"cropledger/internal/http/handlers"
	"cropledger/internal/netmon"
	"cropledger/internal/repos"
	"cropledger/internal/syncer"
)

type testEnv struct {
	app    *fiber.App
	db     *sqlx.DB
	cloud  *cloud.Memory
	net    *netmon.Monitor
	engine *syncer.Engine
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	for _, id := range []string{"owner-1", "owner-2"} {
		if err := repos.SeedOwner(db, id, "Trader "+id, "1234"); err != nil {
			t.Fatal(err)
		}
	}

	mem := cloud.NewMemory()
	mon := netmon.New(nil, time.Minute)
	mon.Set(true)
	eng := syncer.New(repos.NewLedger(db, repos.NewHub()), repos.NewQueueRepo(db), mem, mon, syncer.Options{Stream: mem})

	app := handlers.NewApp(8 << 10)
	handlers.Register(app, handlers.NewDeps(db, eng))
	return &testEnv{app: app, db: db, cloud: mem, net: mon, engine: eng}
}

func extractCookie(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (e *testEnv) do(t *testing.T, method, path, sid string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				t.Fatal(err)
			}
			rd = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	}
	resp, err := e.app.Test(req, 5000)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (e *testEnv) login(t *testing.T, owner string) string {
	t.Helper()
	resp := e.do(t, "POST", "/login", "", map[string]string{"owner_id": owner, "pin": "1234"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", owner, resp.StatusCode)
	}
	sid := extractCookie(resp, "sid")
	if sid == "" {
		t.Fatal("no sid cookie")
	}
	return sid
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

type logEntry struct {
	Level   string         `json:"level"`
	Action  string         `json:"action"`
	OwnerID string         `json:"owner_id"`
	Fields  map[string]any `json:"fields"`
}

// captureLogs temporarily replaces the standard logger output
func captureLogs(t *testing.T, fn func()) []logEntry {
	t.Helper()
	var buf bytes.Buffer
	var mu sync.Mutex
	oldW := log.Writer()
	oldFlags := log.Flags()
	log.SetOutput(&lockedWriter{w: &buf, mu: &mu})
	log.SetFlags(0)
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	fn()

	mu.Lock()
	defer mu.Unlock()
	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var e logEntry
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

func hasAction(entries []logEntry, action string) (logEntry, bool) {
	for _, e := range entries {
		if e.Action == action {
			return e, true
		}
	}
	return logEntry{}, false
}
