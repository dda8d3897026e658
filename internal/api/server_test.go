package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/spherolink/internal/audit"
	"github.com/nerrad567/spherolink/internal/auth"
	"github.com/nerrad567/spherolink/internal/automation"
	"github.com/nerrad567/spherolink/internal/fleet"
	"github.com/nerrad567/spherolink/internal/infrastructure/config"
	"github.com/nerrad567/spherolink/internal/infrastructure/database"
	"github.com/nerrad567/spherolink/internal/infrastructure/logging"
	"github.com/nerrad567/spherolink/internal/process"
	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/protocol/packet"
	"github.com/nerrad567/spherolink/internal/registry"
	"github.com/nerrad567/spherolink/internal/toy"
	"github.com/nerrad567/spherolink/internal/transport"
	"github.com/nerrad567/spherolink/internal/transport/sim"
	"github.com/nerrad567/spherolink/migrations"
)

const (
	testSecret   = "test-secret-key-at-least-32-characters-long"
	testPassword = "correct-horse-battery"
)

type testEnv struct {
	srv      *Server
	router   http.Handler
	fleet    *fleet.Fleet
	registry *registry.Registry
	auth     *auth.Service
	sim      *sim.Toy
	tokens   map[auth.Role]string
}

// newTestEnv builds a server over an in-memory database and a simulated
// BOLT at "bolt-addr". One operator per role is created.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(config.DatabaseConfig{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	adapter := transport.NewPipeAdapter()
	s, err := sim.New(command.KindBOLT, "SB-1234", "bolt-addr")
	if err != nil {
		t.Fatalf("sim.New() error = %v", err)
	}
	adapter.Add(s)

	f := fleet.New(adapter, fleet.WithToyOptions(toy.WithCommandInterval(0)))
	t.Cleanup(func() { f.Close() })

	reg := registry.New(registry.NewSQLiteRepository(db.DB))
	if err := reg.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	routineRepo := automation.NewSQLiteRepository(db.DB)
	routines := automation.NewRegistry(routineRepo)
	routines.SetKindLookup(f.Kind)
	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), nil)
	engine := automation.NewEngine(routines, f, routineRepo, nil)
	engine.SetAuditor(recorder)

	authSvc := auth.NewService(auth.NewOperatorRepository(db.DB), testSecret, time.Hour, nil)
	env := &testEnv{fleet: f, registry: reg, auth: authSvc, sim: s, tokens: make(map[auth.Role]string)}
	for _, role := range auth.Roles {
		if _, err := authSvc.CreateOperator(ctx, string(role)+"-user", testPassword, role); err != nil {
			t.Fatalf("CreateOperator(%s) error = %v", role, err)
		}
		tok, err := authSvc.Login(ctx, string(role)+"-user", testPassword)
		if err != nil {
			t.Fatalf("Login(%s) error = %v", role, err)
		}
		env.tokens[role] = tok.AccessToken
	}

	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Panel: config.PanelConfig{Enabled: true}},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   logging.Discard(),
		Fleet:    f,
		Registry: reg,
		Auth:     authSvc,
		Audit:    recorder,
		Routines: routines,
		Engine:   engine,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.srv = srv
	env.router = srv.Handler()
	return env
}

// do sends a request as role; an empty role sends no token.
func (e *testEnv) do(t *testing.T, role auth.Role, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[role])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// addBolt registers the simulated BOLT as "bolt" and connects it.
func (e *testEnv) addBolt(t *testing.T) {
	t.Helper()
	w := e.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/toys",
		`{"name":"bolt","kind":"bolt","address":"bolt-addr"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body: %s", w.Code, w.Body.String())
	}
	w = e.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/toys/bolt/connect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("connect status = %d; body: %s", w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]Error](t, w)["error"].Code
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(Deps{}) should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "", http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
}

type fakeProcess struct{ stats process.Stats }

func (f fakeProcess) Stats() process.Stats { return f.stats }

func TestHealth_AdapterProcess(t *testing.T) {
	tests := []struct {
		status process.Status
		want   string
	}{
		{process.StatusRunning, "ok"},
		{process.StatusFailed, "degraded"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			env := newTestEnv(t)
			env.srv.adapter = fakeProcess{process.Stats{Name: "adapter", Status: tt.status, Restarts: 2}}

			w := env.do(t, "", http.MethodGet, "/api/v1/health", "")
			resp := decode[map[string]any](t, w)
			if resp["status"] != tt.want {
				t.Errorf("status = %v, want %s", resp["status"], tt.want)
			}
			proc, ok := resp["adapter_process"].(map[string]any)
			if !ok || proc["restarts"] != float64(2) {
				t.Errorf("adapter_process = %v", resp["adapter_process"])
			}
		})
	}
}

func TestPanel(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "", http.MethodGet, "/", "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/panel/" {
		t.Errorf("GET / = %d to %q, want redirect to /panel/", w.Code, w.Header().Get("Location"))
	}
	w = env.do(t, "", http.MethodGet, "/panel/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "spherolink console") {
		t.Errorf("GET /panel/ = %d", w.Code)
	}
	w = env.do(t, "", http.MethodGet, "/panel/app.js", "")
	if w.Code != http.StatusOK {
		t.Errorf("GET /panel/app.js = %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "", http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/toys", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "", http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound || errorCode(t, w) != ErrCodeNotFound {
		t.Errorf("unknown route: status = %d; body: %s", w.Code, w.Body.String())
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"username":"admin-user","password":"` + testPassword + `"}`, http.StatusOK},
		{"wrong password", `{"username":"admin-user","password":"nope-nope-nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"ghost","password":"` + testPassword + `"}`, http.StatusUnauthorized},
		{"missing fields", `{"username":"admin-user"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "", http.MethodPost, "/api/v1/auth/login", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			resp := decode[map[string]any](t, w)
			tok, _ := resp["access_token"].(string)
			if _, err := env.auth.Verify(tok); err != nil {
				t.Errorf("issued token does not verify: %v", err)
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "", http.MethodGet, "/api/v1/toys", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/toys", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec); code != ErrCodeUnauthorized {
		t.Errorf("code = %q", code)
	}
}

func TestPermissions(t *testing.T) {
	env := newTestEnv(t)
	env.addBolt(t)

	tests := []struct {
		name   string
		role   auth.Role
		method string
		path   string
		body   string
		want   int
	}{
		{"viewer lists", auth.RoleViewer, http.MethodGet, "/api/v1/toys", "", http.StatusOK},
		{"viewer cannot execute", auth.RoleViewer, http.MethodPost, "/api/v1/toys/bolt/commands/get_battery_voltage", "", http.StatusForbidden},
		{"operator executes", auth.RoleOperator, http.MethodPost, "/api/v1/toys/bolt/commands/get_battery_voltage", "", http.StatusOK},
		{"operator cannot create", auth.RoleOperator, http.MethodPost, "/api/v1/toys", `{"name":"x","kind":"mini","address":"y"}`, http.StatusForbidden},
		{"operator cannot read audit", auth.RoleOperator, http.MethodGet, "/api/v1/audit", "", http.StatusForbidden},
		{"viewer cannot manage operators", auth.RoleViewer, http.MethodGet, "/api/v1/operators", "", http.StatusForbidden},
		{"admin reads audit", auth.RoleAdmin, http.MethodGet, "/api/v1/audit", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.role, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, auth.RoleOperator, http.MethodGet, "/api/v1/auth/me", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[map[string]any](t, w)
	if resp["username"] != "operator-user" || resp["role"] != "operator" {
		t.Errorf("me = %v", resp)
	}
	if perms, _ := resp["permissions"].([]any); len(perms) != 2 {
		t.Errorf("permissions = %v", resp["permissions"])
	}
}

func TestToyCRUD(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/toys",
		`{"name":"mini","kind":"mini","address":"aa:bb","auto_connect":false}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body: %s", w.Code, w.Body.String())
	}
	created := decode[map[string]any](t, w)
	if created["id"] == "" || created["kind"] != "mini" || created["state"] != "disconnected" || created["model"] == "" {
		t.Errorf("created = %v", created)
	}
	if _, err := env.fleet.Get("mini"); err != nil {
		t.Errorf("toy not added to fleet: %v", err)
	}

	if w = env.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/toys",
		`{"name":"mini","kind":"mini","address":"cc:dd"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", w.Code)
	}
	if w = env.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/toys",
		`{"name":"x","kind":"toaster","address":"cc:dd"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want 400", w.Code)
	}
	if w = env.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/toys",
		`{"name":"a/b","kind":"mini","address":"cc:dd"}`); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid name status = %d, want 422", w.Code)
	}

	w = env.do(t, auth.RoleAdmin, http.MethodPatch, "/api/v1/toys/mini", `{"name":"mini-2","address":"ee:ff"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d; body: %s", w.Code, w.Body.String())
	}
	if _, err := env.fleet.Get("mini"); err == nil {
		t.Error("old fleet member still present after rename")
	}
	entry, err := env.fleet.Entry("mini-2")
	if err != nil || entry.Address != "ee:ff" {
		t.Errorf("fleet entry = %+v, %v", entry, err)
	}

	w = env.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/toys", "")
	if list := decode[map[string]any](t, w); list["count"] != float64(1) {
		t.Errorf("list = %v", list)
	}

	if w = env.do(t, auth.RoleAdmin, http.MethodDelete, "/api/v1/toys/mini-2", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w = env.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/toys/mini-2", ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
	if _, err := env.fleet.Get("mini-2"); err == nil {
		t.Error("fleet member survived delete")
	}
}

func TestConnectDisconnect(t *testing.T) {
	env := newTestEnv(t)
	env.addBolt(t)

	w := env.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/toys/bolt", "")
	if got := decode[map[string]any](t, w)["state"]; got != "connected" {
		t.Errorf("state after connect = %v", got)
	}

	w = env.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/toys/bolt/disconnect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d", w.Code)
	}
	if got := decode[map[string]any](t, w)["state"]; got != "disconnected" {
		t.Errorf("state after disconnect = %v", got)
	}

	w = env.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/toys/bolt/commands/get_battery_voltage", "")
	if w.Code != http.StatusServiceUnavailable || errorCode(t, w) != ErrCodeUnavailable {
		t.Errorf("command while disconnected: status = %d; body: %s", w.Code, w.Body.String())
	}

	if w = env.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/toys/nope/connect", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown toy connect status = %d, want 404", w.Code)
	}
}

func TestListCommandsAndNotifications(t *testing.T) {
	env := newTestEnv(t)
	env.addBolt(t)

	w := env.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/toys/bolt/commands", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	type commandList struct {
		Kind     string        `json:"kind"`
		Commands []commandInfo `json:"commands"`
	}
	cmds := decode[commandList](t, w)
	if cmds.Kind != "bolt" {
		t.Errorf("kind = %q", cmds.Kind)
	}
	var drive *commandInfo
	for i := range cmds.Commands {
		if cmds.Commands[i].Name == "drive_with_heading" {
			drive = &cmds.Commands[i]
		}
	}
	if drive == nil {
		t.Fatal("drive_with_heading not listed")
	}
	if drive.Signature != "speed:u8, heading:u16, drive_flags:u8" || len(drive.Params) != 3 {
		t.Errorf("drive_with_heading = %+v", drive)
	}

	w = env.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/toys/bolt/notifications", "")
	type notificationList struct {
		Notifications []notificationInfo `json:"notifications"`
	}
	notifs := decode[notificationList](t, w)
	found := false
	for _, n := range notifs.Notifications {
		if n.Name == "will_sleep" {
			found = true
		}
	}
	if !found {
		t.Errorf("will_sleep not listed in %+v", notifs.Notifications)
	}
}

func TestExecute(t *testing.T) {
	env := newTestEnv(t)
	env.addBolt(t)
	if err := env.sim.Handle("get_battery_percentage", func(packet.Packet) ([]byte, packet.ErrorCode) {
		return nil, packet.CodeBusy
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		command  string
		body     string
		want     int
		wantCode string
	}{
		{"query", "get_battery_voltage", "", http.StatusOK, ""},
		{"positional", "drive_with_heading", `{"args":[50,90,0]}`, http.StatusOK, ""},
		{"named", "drive_with_heading", `{"named":{"speed":10,"heading":359,"drive_flags":0}}`, http.StatusOK, ""},
		{"out of range", "drive_with_heading", `{"args":[256,0,0]}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"both forms", "drive_with_heading", `{"args":[1,2,3],"named":{"speed":1}}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown field", "wake", `{"argz":[]}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown command", "fly", "", http.StatusBadRequest, ErrCodeBadRequest},
		{"device error", "get_battery_percentage", "", http.StatusBadGateway, ErrCodeDevice},
		{"negative timeout", "wake", `{"timeout_ms":-1}`, http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/toys/bolt/commands/"+tt.command, tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
			if tt.wantCode != "" {
				if code := errorCode(t, w); code != tt.wantCode {
					t.Errorf("code = %q, want %q", code, tt.wantCode)
				}
			}
		})
	}

	w := env.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/toys/bolt/commands/get_battery_voltage", "")
	if got := decode[map[string]any](t, w)["result"]; got != 4.2 {
		t.Errorf("result = %v, want 4.2", got)
	}
}

func TestExecuteTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.addBolt(t)
	if err := env.sim.Ignore("get_battery_voltage"); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/toys/bolt/commands/get_battery_voltage", `{"timeout_ms":50}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504; body: %s", w.Code, w.Body.String())
	}
	if code := errorCode(t, w); code != ErrCodeTimeout {
		t.Errorf("code = %q, want %q", code, ErrCodeTimeout)
	}
}

func TestRaw(t *testing.T) {
	env := newTestEnv(t)
	env.addBolt(t)

	// power 0x13, get_battery_percentage 0x10
	w := env.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/toys/bolt/raw", `{"device_id":19,"command_id":16}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	resp := decode[rawResponse](t, w)
	if resp.ErrorCode != 0 || resp.Payload != "57" {
		t.Errorf("raw response = %+v, want payload 57 (87)", resp)
	}

	if w = env.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/toys/bolt/raw", `{"device_id":19,"command_id":16,"payload":"zz"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad hex status = %d, want 400", w.Code)
	}
	if w = env.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/toys/bolt/raw", `{"device_id":19,"command_id":254}`); w.Code != http.StatusBadGateway {
		t.Errorf("unknown command id status = %d, want 502", w.Code)
	}
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	env.addBolt(t)

	env.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/toys/bolt/commands/get_battery_voltage", "")
	env.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/toys/bolt/commands/fly", "")

	w := env.do(t, auth.RoleAdmin, http.MethodGet, "/api/v1/audit?toy=bolt", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	result := decode[audit.ListResult](t, w)
	if result.Total != 2 {
		t.Fatalf("total = %d, want 2", result.Total)
	}
	outcomes := map[string]string{}
	for _, e := range result.Entries {
		outcomes[e.Command] = e.Outcome
		if e.Source != audit.SourceAPI || e.Operator != "operator-user" {
			t.Errorf("entry = %+v", e)
		}
	}
	if outcomes["get_battery_voltage"] != audit.OutcomeOK || outcomes["fly"] != audit.OutcomeRejected {
		t.Errorf("outcomes = %v", outcomes)
	}

	for _, q := range []string{"limit=x", "offset=-1", "since=yesterday"} {
		if w := env.do(t, auth.RoleAdmin, http.MethodGet, "/api/v1/audit?"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, w.Code)
		}
	}
}

func TestOperators(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/operators",
		`{"username":"bob","password":"long-enough-pw","role":"operator"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body: %s", w.Code, w.Body.String())
	}
	bob := decode[auth.Operator](t, w)
	if strings.Contains(w.Body.String(), "password") {
		t.Error("response leaks password hash")
	}

	if w = env.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/operators",
		`{"username":"bob2","password":"short"}`); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("weak password status = %d, want 422", w.Code)
	}

	if w = env.do(t, auth.RoleAdmin, http.MethodPut, "/api/v1/operators/"+bob.ID+"/role", `{"role":"viewer"}`); w.Code != http.StatusNoContent {
		t.Errorf("set role status = %d; body: %s", w.Code, w.Body.String())
	}

	w = env.do(t, auth.RoleAdmin, http.MethodGet, "/api/v1/operators", "")
	if got := decode[map[string]any](t, w)["count"]; got != float64(4) {
		t.Errorf("count = %v, want 4", got)
	}

	admin, err := env.auth.Verify(env.tokens[auth.RoleAdmin])
	if err != nil {
		t.Fatal(err)
	}
	if w = env.do(t, auth.RoleAdmin, http.MethodDelete, "/api/v1/operators/"+admin.Subject, ""); w.Code != http.StatusConflict {
		t.Errorf("self delete status = %d, want 409", w.Code)
	}
	if w = env.do(t, auth.RoleAdmin, http.MethodDelete, "/api/v1/operators/"+bob.ID, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	if w = env.do(t, auth.RoleAdmin, http.MethodDelete, "/api/v1/operators/"+bob.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestChangeOwnPassword(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, auth.RoleViewer, http.MethodPut, "/api/v1/auth/password", `{"password":"a-new-password"}`); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if _, err := env.auth.Login(context.Background(), "viewer-user", "a-new-password"); err != nil {
		t.Errorf("login with new password: %v", err)
	}
}

func TestWebSocket(t *testing.T) {
	env := newTestEnv(t)
	env.addBolt(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go env.srv.hub.Run(ctx)
	env.srv.relayFleet()

	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)
	wsBase := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(wsBase, nil); err == nil {
		t.Fatal("expected dial without ticket to fail")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no ticket status = %d, want 401", resp.StatusCode)
	}

	w := env.do(t, auth.RoleViewer, http.MethodPost, "/api/v1/auth/ws-ticket", "")
	ticket, _ := decode[map[string]any](t, w)["ticket"].(string)
	ws, _, err := websocket.DefaultDialer.Dial(wsBase+"?ticket="+ticket, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if _, resp, err := websocket.DefaultDialer.Dial(wsBase+"?ticket="+ticket, nil); err == nil {
		t.Error("ticket accepted twice")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("reused ticket status = %d, want 401", resp.StatusCode)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"event:bolt", ChannelState}}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // test deadline
	var ack WSMessage
	if err := ws.ReadJSON(&ack); err != nil || ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("subscribe ack = %+v, %v", ack, err)
	}

	if err := env.sim.Push("will_sleep", nil); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for event: %v", err)
		}
		if msg.EventType != ChannelEvent {
			continue
		}
		payload, _ := msg.Payload.(map[string]any)
		if msg.Toy != "bolt" || payload["notification"] != "will_sleep" {
			t.Errorf("event = %+v", msg)
		}
		break
	}

	env.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/toys/bolt/disconnect", "")
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for state: %v", err)
		}
		if msg.EventType != ChannelState {
			continue
		}
		payload, _ := msg.Payload.(map[string]any)
		if payload["state"] == "disconnected" {
			break
		}
	}
}

func TestWebSocket_InvalidMessage(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	w := env.do(t, auth.RoleViewer, http.MethodPost, "/api/v1/auth/ws-ticket", "")
	ticket, _ := decode[map[string]any](t, w)["ticket"].(string)
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws?ticket="+ticket, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != WSTypeError {
		t.Errorf("type = %s, want error", resp.Type)
	}
}

func TestStartAndClose(t *testing.T) {
	env := newTestEnv(t)
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
