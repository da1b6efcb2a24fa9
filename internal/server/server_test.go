package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"

	"caseflow/internal/db"
	"caseflow/internal/engine"
	"caseflow/internal/engine/adhoc"
	"caseflow/internal/migrate"
	"caseflow/internal/screening"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

var analystHeaders = map[string]string{
	"X-User-Id":     "analyst-1",
	"X-User-Roles":  "KYC_ANALYST",
	"X-User-Groups": "kyc_analysts",
}

var reviewerHeaders = map[string]string{
	"X-User-Id":     "reviewer-1",
	"X-User-Roles":  "KYC_REVIEWER",
	"X-User-Groups": "kyc_reviewers",
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, nil)
	handler, err := New(Config{
		Engine:    e,
		AdHoc:     adhoc.New(conn),
		Screening: screening.New(conn),
		BasePath:  "/v0",
		Auth: AuthConfig{
			JWTSecret:             "test-secret",
			AllowLegacyUserHeader: true,
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
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
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

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v: %s", err, string(data))
	}
	return envelope.Error.Code
}

func createCase(t *testing.T, srv *testServer) CaseResponse {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/clients", map[string]any{
		"first_name": "Ada",
		"last_name":  "Lovelace",
	}, analystHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create client status %d: %s", res.StatusCode, string(data))
	}
	var created ClientResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal client: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"client_id": created.ID,
		"reason":    "onboarding",
	}, analystHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create case status %d: %s", res.StatusCode, string(data))
	}
	var c CaseResponse
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}
	return c
}

func firstTask(t *testing.T, srv *testServer, headers map[string]string) TaskResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/mine", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tasks/mine status %d: %s", res.StatusCode, string(data))
	}
	var tasks []TaskResponse
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks) == 0 {
		t.Fatalf("expected at least one task")
	}
	return tasks[0]
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code = %s", code)
	}
	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestCreateCaseRequiresPermission(t *testing.T) {
	srv := newTestServer(t)
	headers := map[string]string{
		"X-User-Id":    "reviewer-1",
		"X-User-Roles": "KYC_REVIEWER",
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"client_id": 1,
	}, headers)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("code = %s", code)
	}
}

func TestQuestionnaireGateOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	createCase(t, srv)

	task := firstTask(t, srv, analystHeaders)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.TaskID+"/claim", nil, analystHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.TaskID+"/approve", nil, analystHeaders)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "questionnaire_incomplete" {
		t.Fatalf("code = %s", code)
	}
}

func TestApproveAndRejectFlow(t *testing.T) {
	srv := newTestServer(t)
	c := createCase(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/cases/"+strconv.FormatInt(c.ID, 10)+"/answers", map[string]any{
		"answers": []map[string]any{
			{"question_id": 1, "text": "yes"},
			{"question_id": 2, "text": "DE"},
			{"question_id": 4, "text": "Salary"},
			{"question_id": 6, "text": "no"},
		},
	}, analystHeaders)
	if res.StatusCode >= 300 {
		t.Fatalf("save answers status %d: %s", res.StatusCode, string(data))
	}

	task := firstTask(t, srv, analystHeaders)
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.TaskID+"/claim", nil, analystHeaders); res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.TaskID+"/approve", nil, analystHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	var advanced CaseResponse
	if err := json.Unmarshal(data, &advanced); err != nil {
		t.Fatal(err)
	}
	if advanced.Status != "REVIEWER" {
		t.Fatalf("status = %s, want REVIEWER", advanced.Status)
	}

	// reviewer rejects back to the analyst with a mandatory comment
	task = firstTask(t, srv, reviewerHeaders)
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.TaskID+"/claim", nil, reviewerHeaders); res.StatusCode != http.StatusOK {
		t.Fatalf("reviewer claim status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.TaskID+"/reject", map[string]any{
		"text": "source of funds unclear",
	}, reviewerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject status %d: %s", res.StatusCode, string(data))
	}
	var rejected CaseResponse
	if err := json.Unmarshal(data, &rejected); err != nil {
		t.Fatal(err)
	}
	if rejected.Status != "ANALYST" {
		t.Fatalf("status = %s, want ANALYST", rejected.Status)
	}
}

func TestClaimConflictOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	createCase(t, srv)
	task := firstTask(t, srv, analystHeaders)

	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.TaskID+"/claim", nil, analystHeaders); res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}
	other := map[string]string{"X-User-Id": "analyst-2", "X-User-Groups": "kyc_analysts"}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.TaskID+"/claim", nil, other)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second claim status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "task_claimed" {
		t.Fatalf("code = %s", code)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"user_id": "analyst-1",
		"roles":   []string{"KYC_ANALYST"},
		"groups":  []string{"kyc_analysts"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatal(err)
	}
	if login.Token == "" {
		t.Fatalf("empty token")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatal(err)
	}
	if me.UserID != "analyst-1" {
		t.Fatalf("user = %s", me.UserID)
	}
	found := false
	for _, p := range me.Permissions {
		if p == "case.create" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected case.create in %v", me.Permissions)
	}
}

func TestAdHocOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	owner := map[string]string{"X-User-Id": "analyst-1"}
	assignee := map[string]string{"X-User-Id": "reviewer-1"}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/adhoc-tasks", map[string]any{
		"assignee":     "reviewer-1",
		"request_text": "Need the certified passport copy",
	}, owner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var task AdHocTaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/adhoc-tasks/"+task.ID+"/respond", map[string]any{
		"response_text": "Uploaded",
	}, assignee)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("respond status %d: %s", res.StatusCode, string(data))
	}
	var responded AdHocTaskResponse
	if err := json.Unmarshal(data, &responded); err != nil {
		t.Fatal(err)
	}
	if responded.Status != "RESPONDED" || responded.Assignee != "analyst-1" {
		t.Fatalf("task = %+v, want RESPONDED back at owner", responded)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/adhoc-tasks/"+task.ID+"/complete", nil, owner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
}

