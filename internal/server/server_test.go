package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"testing"

	"complyline/internal/config"
	"complyline/internal/db"
	"complyline/internal/engine"
	"complyline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("complyline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), cfg.Project.ID, "org-1", "test project", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
			Logger:                 log.New(io.Discard, "", 0),
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestObligationLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	projectID := "complyline"
	client := srv.Client()

	mechRes, mechBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/mechanisms", map[string]any{
		"name":      "Environmental Permit",
		"reference": "EP-2026-004",
	}, nil)
	if mechRes.StatusCode != http.StatusCreated {
		t.Fatalf("create mechanism: %d %s", mechRes.StatusCode, string(mechBody))
	}
	var mech MechanismResponse
	if err := json.Unmarshal(mechBody, &mech); err != nil {
		t.Fatalf("unmarshal mechanism: %v", err)
	}

	oblRes, oblBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/obligations", map[string]any{
		"title":        "Quarterly groundwater sampling",
		"mechanism_id": mech.ID,
		"due_date":     "2030-06-30",
	}, nil)
	if oblRes.StatusCode != http.StatusCreated {
		t.Fatalf("create obligation: %d %s", oblRes.StatusCode, string(oblBody))
	}
	var obl ObligationResponse
	if err := json.Unmarshal(oblBody, &obl); err != nil {
		t.Fatalf("unmarshal obligation: %v", err)
	}
	if obl.ID != "PCEMP-001" {
		t.Fatalf("expected generated identifier PCEMP-001, got %s", obl.ID)
	}
	if obl.EffectiveStatus != "not_started" {
		t.Fatalf("expected effective status not_started, got %s", obl.EffectiveStatus)
	}

	badRes, badBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+projectID+"/obligations/"+obl.ID, map[string]any{
		"status": "completed",
	}, nil)
	if badRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 completing without close_out_date, got %d %s", badRes.StatusCode, string(badBody))
	}

	doneRes, doneBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+projectID+"/obligations/"+obl.ID, map[string]any{
		"status":         "completed",
		"close_out_date": "2030-07-02",
	}, nil)
	if doneRes.StatusCode != http.StatusOK {
		t.Fatalf("complete obligation: %d %s", doneRes.StatusCode, string(doneBody))
	}
	var done ObligationResponse
	if err := json.Unmarshal(doneBody, &done); err != nil {
		t.Fatalf("unmarshal completed obligation: %v", err)
	}
	if done.Status != "completed" {
		t.Fatalf("expected status completed, got %s", done.Status)
	}

	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/mechanisms/"+mech.ID, nil, nil)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get mechanism: %d %s", getRes.StatusCode, string(getBody))
	}
	var counted MechanismResponse
	if err := json.Unmarshal(getBody, &counted); err != nil {
		t.Fatalf("unmarshal mechanism: %v", err)
	}
	if counted.Completed != 1 || counted.NotStarted != 0 {
		t.Fatalf("expected counters completed=1 not_started=0, got %+v", counted)
	}
}

func TestAuditCascadeOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	projectID := "complyline"
	client := srv.Client()

	_, mechBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/mechanisms", map[string]any{
		"name": "Water Licence",
	}, nil)
	var mech MechanismResponse
	if err := json.Unmarshal(mechBody, &mech); err != nil {
		t.Fatalf("unmarshal mechanism: %v", err)
	}
	_, oblBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/obligations", map[string]any{
		"title":        "Report discharge volumes",
		"mechanism_id": mech.ID,
	}, nil)
	var obl ObligationResponse
	if err := json.Unmarshal(oblBody, &obl); err != nil {
		t.Fatalf("unmarshal obligation: %v", err)
	}

	auditRes, auditBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/audits", map[string]any{
		"title":         "Annual compliance audit",
		"mechanism_ids": []string{mech.ID},
	}, nil)
	if auditRes.StatusCode != http.StatusCreated {
		t.Fatalf("create audit: %d %s", auditRes.StatusCode, string(auditBody))
	}
	var audit AuditResponse
	if err := json.Unmarshal(auditBody, &audit); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}

	entriesRes, entriesBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/audits/"+audit.ID+"/entries", nil, nil)
	if entriesRes.StatusCode != http.StatusOK {
		t.Fatalf("list entries: %d %s", entriesRes.StatusCode, string(entriesBody))
	}
	var entries []AuditEntryResponse
	if err := json.Unmarshal(entriesBody, &entries); err != nil {
		t.Fatalf("unmarshal entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != "pending" {
		t.Fatalf("expected one pending entry, got %+v", entries)
	}
	entryID := entries[0].ID

	findRes, findBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+projectID+"/entries/"+entryID+"/finding", map[string]any{
		"finding": "noncompliant",
		"notes":   "sampling missed in Q2",
	}, nil)
	if findRes.StatusCode != http.StatusOK {
		t.Fatalf("set finding: %d %s", findRes.StatusCode, string(findBody))
	}
	var entry AuditEntryResponse
	if err := json.Unmarshal(findBody, &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if entry.Status != "noncompliant" {
		t.Fatalf("expected noncompliant entry, got %s", entry.Status)
	}

	mitRes, mitBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/entries/"+entryID+"/mitigations", map[string]any{
		"description": "Re-run the missed sampling round",
	}, nil)
	if mitRes.StatusCode != http.StatusCreated {
		t.Fatalf("add mitigation: %d %s", mitRes.StatusCode, string(mitBody))
	}
	var mit MitigationResponse
	if err := json.Unmarshal(mitBody, &mit); err != nil {
		t.Fatalf("unmarshal mitigation: %v", err)
	}
	if mit.Status != "open" {
		t.Fatalf("expected open mitigation, got %s", mit.Status)
	}

	actRes, actBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/mitigations/"+mit.ID+"/actions", map[string]any{
		"description": "Schedule contractor for resampling",
		"due_date":    "2030-03-31",
	}, nil)
	if actRes.StatusCode != http.StatusCreated {
		t.Fatalf("add action: %d %s", actRes.StatusCode, string(actBody))
	}
	var act CorrectiveActionResponse
	if err := json.Unmarshal(actBody, &act); err != nil {
		t.Fatalf("unmarshal action: %v", err)
	}

	_, mitsBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/entries/"+entryID+"/mitigations", nil, nil)
	var mits []MitigationResponse
	if err := json.Unmarshal(mitsBody, &mits); err != nil {
		t.Fatalf("unmarshal mitigations: %v", err)
	}
	if len(mits) != 1 || mits[0].Status != "action_required" {
		t.Fatalf("expected action_required mitigation, got %+v", mits)
	}

	closeRes, closeBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+projectID+"/actions/"+act.ID, map[string]any{
		"status": "closed",
	}, nil)
	if closeRes.StatusCode != http.StatusOK {
		t.Fatalf("close action: %d %s", closeRes.StatusCode, string(closeBody))
	}

	_, entryBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/audits/"+audit.ID+"/entries", nil, nil)
	var after []AuditEntryResponse
	if err := json.Unmarshal(entryBody, &after); err != nil {
		t.Fatalf("unmarshal entries: %v", err)
	}
	if len(after) != 1 || after[0].Status != "compliant" {
		t.Fatalf("expected compliant entry after closing actions, got %+v", after)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/projects/complyline/status", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
}

func TestDevLoginAndBearerAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	loginRes, loginBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "tester",
		"org_id":   "org-1",
	}, map[string]string{"X-Actor-Id": ""})
	if loginRes.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", loginRes.StatusCode, string(loginBody))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(loginBody, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected a token")
	}

	meRes, meBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
		"X-Actor-Id":    "",
	})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", meRes.StatusCode, string(meBody))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(meBody, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "tester" || me.OrgID != "org-1" {
		t.Fatalf("unexpected principal: %+v", me)
	}
}

func TestProjectStatusOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	projectID := "complyline"
	client := srv.Client()

	_, mechBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/mechanisms", map[string]any{
		"name": "Mining Lease",
	}, nil)
	var mech MechanismResponse
	if err := json.Unmarshal(mechBody, &mech); err != nil {
		t.Fatalf("unmarshal mechanism: %v", err)
	}
	for _, title := range []string{"Lodge annual return", "Maintain rehabilitation bond"} {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/obligations", map[string]any{
			"title":        title,
			"mechanism_id": mech.ID,
		}, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create obligation: %d %s", res.StatusCode, string(body))
		}
	}

	statusRes, statusBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/status", nil, nil)
	if statusRes.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", statusRes.StatusCode, string(statusBody))
	}
	var report engine.StatusReport
	if err := json.Unmarshal(statusBody, &report); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if report.Obligations.Total != 2 || report.Mechanisms != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}
