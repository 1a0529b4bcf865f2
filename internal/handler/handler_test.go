package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/docstore"
	"classattend/internal/queue"
)

type testAPI struct {
	router *gin.Engine
	jobs   *queue.InMemory
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPIWithQueue(t, 16)
}

func newTestAPIWithQueue(t *testing.T, size int) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := docstore.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	svc := attendance.NewService(store, zap.NewNop(), attendance.WithSubscriptionTracker(func(int) {}))
	jobs := queue.NewInMemory(size)
	r := gin.New()
	New(svc, auth.NewIssuer("test", "secret", time.Minute, time.Hour), jobs, zap.NewNop()).
		Register(r, func(c *gin.Context) { c.Next() })
	return &testAPI{router: r, jobs: jobs}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

type registered struct {
	Profile struct {
		ID string `json:"id"`
	} `json:"profile"`
	Tokens auth.TokenPair `json:"tokens"`
}

func (a *testAPI) user(t *testing.T, name, studentID string) registered {
	t.Helper()
	w := a.do(t, http.MethodPost, "/v1/users", "", map[string]string{"name": name, "studentId": studentID})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", name, w.Code, w.Body.String())
	}
	return decode[registered](t, w)
}

func expect(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("status = %d, want %d: %s", w.Code, code, w.Body.String())
	}
}

func TestCheckInFlow(t *testing.T) {
	a := newTestAPI(t)
	teacher := a.user(t, "Teacher", "")
	student := a.user(t, "Student", "6501")
	tt, st := teacher.Tokens.AccessToken, student.Tokens.AccessToken

	w := a.do(t, http.MethodPost, "/v1/classrooms", tt, map[string]any{"code": "CS101", "name": "Intro", "attendScore": 1, "lateScore": 0.5})
	expect(t, w, http.StatusCreated)
	cid := decode[struct {
		ID string `json:"id"`
	}](t, w).ID

	expect(t, a.do(t, http.MethodPost, "/v1/scan", st, map[string]string{"value": "cid" + cid}), http.StatusOK)
	expect(t, a.do(t, http.MethodPost, "/v1/classrooms/"+cid+"/join", st, nil), http.StatusConflict)

	w = a.do(t, http.MethodPost, "/v1/classrooms/"+cid+"/sessions", tt, map[string]any{"code": "ABC1", "scheduledAt": "2024-03-05T08:00:00Z"})
	expect(t, w, http.StatusCreated)
	sid := decode[struct {
		ID string `json:"id"`
	}](t, w).ID
	base := "/v1/classrooms/" + cid + "/sessions/" + sid

	w = a.do(t, http.MethodPost, "/v1/scan", st, map[string]string{"value": "cno" + sid})
	expect(t, w, http.StatusOK)
	if got := decode[map[string]any](t, w)["classroomId"]; got != cid {
		t.Fatalf("located classroom = %v", got)
	}

	expect(t, a.do(t, http.MethodPost, base+"/submit", st, map[string]string{"code": "ABC1"}), http.StatusConflict)
	expect(t, a.do(t, http.MethodPut, base+"/state", st, map[string]int{"state": 1}), http.StatusForbidden)
	expect(t, a.do(t, http.MethodPut, base+"/state", tt, map[string]int{"state": 1}), http.StatusOK)
	expect(t, a.do(t, http.MethodPost, base+"/submit", st, map[string]string{"code": "nope"}), http.StatusConflict)
	expect(t, a.do(t, http.MethodPost, base+"/submit", st, map[string]string{"code": "ABC1"}), http.StatusOK)

	expect(t, a.do(t, http.MethodGet, base+"/roster", st, nil), http.StatusForbidden)
	w = a.do(t, http.MethodGet, base+"/roster", tt, nil)
	expect(t, w, http.StatusOK)
	roster := decode[struct {
		Records []struct {
			State int     `json:"attendanceState"`
			Score float64 `json:"awardedScore"`
		} `json:"records"`
	}](t, w)
	if len(roster.Records) != 1 || roster.Records[0].State != 1 || roster.Records[0].Score != 1 {
		t.Fatalf("roster = %+v", roster)
	}

	w = a.do(t, http.MethodGet, base+"/roster/export", tt, nil)
	expect(t, w, http.StatusOK)
	f, err := excelize.OpenReader(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := f.GetCellValue("Roster", "A4"); v != "6501" {
		t.Fatalf("exported student = %q", v)
	}
	_ = f.Close()

	w = a.do(t, http.MethodGet, "/v1/classrooms/"+cid+"/history", st, nil)
	expect(t, w, http.StatusOK)
	if total := decode[attendance.History](t, w).TotalScore; total != 1 {
		t.Fatalf("total = %v", total)
	}
}

func TestErrorStatuses(t *testing.T) {
	a := newTestAPI(t)
	u := a.user(t, "Someone", "")

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"no token", http.MethodGet, "/v1/me", "", nil, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/v1/me", "junk", nil, http.StatusUnauthorized},
		{"missing classroom", http.MethodGet, "/v1/classrooms/nope/members", u.Tokens.AccessToken, nil, http.StatusNotFound},
		{"bad scan", http.MethodPost, "/v1/scan", u.Tokens.AccessToken, map[string]string{"value": "hello"}, http.StatusBadRequest},
		{"missing body field", http.MethodPost, "/v1/users", "", map[string]string{}, http.StatusBadRequest},
		{"refresh with access token", http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refreshToken": u.Tokens.AccessToken}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expect(t, a.do(t, tc.method, tc.path, tc.token, tc.body), tc.want)
		})
	}

	w := a.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refreshToken": u.Tokens.RefreshToken})
	expect(t, w, http.StatusOK)
	if decode[auth.TokenPair](t, w).AccessToken == "" {
		t.Fatal("refresh returned no access token")
	}
}

func TestRemoveStudentEnqueuesReconcile(t *testing.T) {
	a := newTestAPI(t)
	teacher := a.user(t, "Teacher", "")
	student := a.user(t, "Student", "6501")
	tt := teacher.Tokens.AccessToken

	w := a.do(t, http.MethodPost, "/v1/classrooms", tt, map[string]any{"code": "CS101", "name": "Intro", "attendScore": 1, "lateScore": 0.5})
	expect(t, w, http.StatusCreated)
	cid := decode[map[string]any](t, w)["id"].(string)
	expect(t, a.do(t, http.MethodPost, "/v1/classrooms/"+cid+"/join", student.Tokens.AccessToken, nil), http.StatusOK)
	expect(t, a.do(t, http.MethodDelete, "/v1/classrooms/"+cid+"/members/"+student.Profile.ID, tt, nil), http.StatusNoContent)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msgs, err := a.jobs.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-msgs:
		var job queue.ReconcileJob
		if err := msg.Decode(&job); err != nil {
			t.Fatal(err)
		}
		if msg.Type != queue.TypeReconcileEnrollment || job.UserID != student.Profile.ID || job.ClassroomID != cid {
			t.Fatalf("job = %s %+v", msg.Type, job)
		}
	case <-ctx.Done():
		t.Fatal("no reconcile job published")
	}
}

func TestOpenQuestionsStream(t *testing.T) {
	a := newTestAPI(t)
	u := a.user(t, "Student", "6501")
	srv := httptest.NewServer(a.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/me/open-questions", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+u.Tokens.AccessToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if strings.HasPrefix(sc.Text(), "data:") {
			break
		}
	}
	want := []string{"event:questions", "data:[]"}
	if len(lines) < 2 || lines[len(lines)-2] != want[0] || lines[len(lines)-1] != want[1] {
		t.Fatalf("stream = %q", lines)
	}
}

func TestDeleteClassroomWithFullQueue(t *testing.T) {
	a := newTestAPIWithQueue(t, 1)
	teacher := a.user(t, "Teacher", "")
	tt := teacher.Tokens.AccessToken

	w := a.do(t, http.MethodPost, "/v1/classrooms", tt, map[string]any{"code": "CS101", "name": "Intro", "attendScore": 1, "lateScore": 0.5})
	expect(t, w, http.StatusCreated)
	cid := decode[map[string]any](t, w)["id"].(string)
	for _, id := range []string{"6501", "6502", "6503"} {
		s := a.user(t, "Student "+id, id)
		expect(t, a.do(t, http.MethodPost, "/v1/classrooms/"+cid+"/join", s.Tokens.AccessToken, nil), http.StatusOK)
	}

	// Nothing consumes the queue, so only one of the three jobs fits.
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- a.do(t, http.MethodDelete, "/v1/classrooms/"+cid, tt, nil) }()
	select {
	case w := <-done:
		expect(t, w, http.StatusNoContent)
	case <-time.After(2 * time.Second):
		t.Fatal("delete blocked on the job queue")
	}
}

func TestUpdateClassroom(t *testing.T) {
	a := newTestAPI(t)
	teacher := a.user(t, "Teacher", "")
	tt := teacher.Tokens.AccessToken

	w := a.do(t, http.MethodPost, "/v1/classrooms", tt, map[string]any{"code": "CS101", "name": "Intro", "room": "B2", "attendScore": 1, "lateScore": 0.5})
	expect(t, w, http.StatusCreated)
	cid := decode[map[string]any](t, w)["id"].(string)

	w = a.do(t, http.MethodPatch, "/v1/classrooms/"+cid, tt, map[string]any{"name": "Programming", "room": "A1"})
	expect(t, w, http.StatusOK)
	got := decode[map[string]any](t, w)
	if got["name"] != "Programming" || got["room"] != "A1" || got["code"] != "CS101" {
		t.Fatalf("classroom = %v", got)
	}
	expect(t, a.do(t, http.MethodPatch, "/v1/classrooms/"+cid, tt, map[string]any{"lateScore": 5}), http.StatusBadRequest)
}
