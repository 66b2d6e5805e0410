package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"boardsync/board"
	"boardsync/domain"
)

type stubBoard struct {
	tasksFn        func(ctx context.Context) ([]domain.Task, error)
	usersFn        func(ctx context.Context) ([]domain.User, error)
	activityFn     func(ctx context.Context, limit int) ([]domain.ActivityRecord, error)
	createFn       func(ctx context.Context, userID, connID string, req board.CreateRequest) (domain.Task, error)
	updateFn       func(ctx context.Context, userID, connID, taskID string, changes board.TaskChanges) (domain.Task, error)
	moveFn         func(ctx context.Context, userID, connID, taskID string, status domain.Status, order int) (domain.Task, error)
	deleteFn       func(ctx context.Context, userID, connID, taskID string) error
	reorderFn      func(ctx context.Context, userID, connID string, positions []domain.TaskPosition) error
	acquireLockFn  func(ctx context.Context, userID, connID, taskID string) (board.LockSession, error)
	releaseLockFn  func(userID, connID, taskID string)
	connectFn      func(user domain.User) (string, <-chan domain.Event)
	disconnectFn   func(connID string)
	relayFn        func(connID string, ev domain.Event) error
}

func (s *stubBoard) Tasks(ctx context.Context) ([]domain.Task, error) {
	if s.tasksFn == nil {
		return nil, errors.New("unexpected Tasks call")
	}
	return s.tasksFn(ctx)
}

func (s *stubBoard) Users(ctx context.Context) ([]domain.User, error) {
	if s.usersFn == nil {
		return nil, errors.New("unexpected Users call")
	}
	return s.usersFn(ctx)
}

func (s *stubBoard) ActivityFeed(ctx context.Context, limit int) ([]domain.ActivityRecord, error) {
	if s.activityFn == nil {
		return nil, errors.New("unexpected ActivityFeed call")
	}
	return s.activityFn(ctx, limit)
}

func (s *stubBoard) Create(ctx context.Context, userID, connID string, req board.CreateRequest) (domain.Task, error) {
	if s.createFn == nil {
		return domain.Task{}, errors.New("unexpected Create call")
	}
	return s.createFn(ctx, userID, connID, req)
}

func (s *stubBoard) Update(ctx context.Context, userID, connID, taskID string, changes board.TaskChanges) (domain.Task, error) {
	if s.updateFn == nil {
		return domain.Task{}, errors.New("unexpected Update call")
	}
	return s.updateFn(ctx, userID, connID, taskID, changes)
}

func (s *stubBoard) Move(ctx context.Context, userID, connID, taskID string, status domain.Status, order int) (domain.Task, error) {
	if s.moveFn == nil {
		return domain.Task{}, errors.New("unexpected Move call")
	}
	return s.moveFn(ctx, userID, connID, taskID, status, order)
}

func (s *stubBoard) Delete(ctx context.Context, userID, connID, taskID string) error {
	if s.deleteFn == nil {
		return errors.New("unexpected Delete call")
	}
	return s.deleteFn(ctx, userID, connID, taskID)
}

func (s *stubBoard) Reorder(ctx context.Context, userID, connID string, positions []domain.TaskPosition) error {
	if s.reorderFn == nil {
		return errors.New("unexpected Reorder call")
	}
	return s.reorderFn(ctx, userID, connID, positions)
}

func (s *stubBoard) AcquireLock(ctx context.Context, userID, connID, taskID string) (board.LockSession, error) {
	if s.acquireLockFn == nil {
		return board.LockSession{}, errors.New("unexpected AcquireLock call")
	}
	return s.acquireLockFn(ctx, userID, connID, taskID)
}

func (s *stubBoard) ReleaseLock(userID, connID, taskID string) {
	if s.releaseLockFn != nil {
		s.releaseLockFn(userID, connID, taskID)
	}
}

func (s *stubBoard) Connect(user domain.User) (string, <-chan domain.Event) {
	if s.connectFn == nil {
		ch := make(chan domain.Event)
		close(ch)
		return "", ch
	}
	return s.connectFn(user)
}

func (s *stubBoard) Disconnect(connID string) {
	if s.disconnectFn != nil {
		s.disconnectFn(connID)
	}
}

func (s *stubBoard) Relay(connID string, ev domain.Event) error {
	if s.relayFn == nil {
		return errors.New("unexpected Relay call")
	}
	return s.relayFn(connID, ev)
}

type staticAuth struct {
	userID string
	err    error
}

func (a staticAuth) UserIDFromAuthHeader(string) (string, error) {
	return a.userID, a.err
}

func newTestServer(t *testing.T, b Board, auth Authenticator) *echo.Echo {
	t.Helper()
	e := echo.New()
	logger, _ := test.NewNullLogger()
	Register(e, b, auth, logger)
	return e
}

func doRequest(e *echo.Echo, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Authorization", "Bearer x.y.z")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGetTasksReturnsDecoratedBoard(t *testing.T) {
	b := &stubBoard{
		tasksFn: func(context.Context) ([]domain.Task, error) {
			return []domain.Task{{ID: "t1", Title: "First", Status: domain.StatusTodo, IsLocked: true, LockedBy: "bob"}}, nil
		},
	}
	e := newTestServer(t, b, staticAuth{userID: "alice"})

	rec := doRequest(e, http.MethodGet, "/api/tasks", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp tasksResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].LockedBy != "bob" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestGetTasksUnauthorized(t *testing.T) {
	e := newTestServer(t, &stubBoard{}, staticAuth{err: errMissingAuthorization})
	rec := doRequest(e, http.MethodGet, "/api/tasks", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPostTaskCreatesAndForwardsConnection(t *testing.T) {
	var gotConn string
	b := &stubBoard{
		createFn: func(_ context.Context, userID, connID string, req board.CreateRequest) (domain.Task, error) {
			gotConn = connID
			return domain.Task{ID: "t1", Title: req.Title, CreatedBy: userID, Version: 1}, nil
		},
	}
	e := newTestServer(t, b, staticAuth{userID: "alice"})

	rec := doRequest(e, http.MethodPost, "/api/tasks", `{"title":"Ship release"}`,
		map[string]string{connectionHeader: "conn-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if gotConn != "conn-1" {
		t.Fatalf("connection id not forwarded: %q", gotConn)
	}
	var task domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.CreatedBy != "alice" || task.Version != 1 {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestPostTaskValidationErrorMapsTo400(t *testing.T) {
	b := &stubBoard{
		createFn: func(context.Context, string, string, board.CreateRequest) (domain.Task, error) {
			return domain.Task{}, &domain.ValidationError{Field: "title", Reason: "title is required"}
		},
	}
	e := newTestServer(t, b, staticAuth{userID: "alice"})

	rec := doRequest(e, http.MethodPost, "/api/tasks", `{"title":""}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Field != "title" {
		t.Fatalf("expected field in error body: %+v", resp)
	}
}

func TestPostTaskNoCandidatesMapsTo409(t *testing.T) {
	b := &stubBoard{
		createFn: func(context.Context, string, string, board.CreateRequest) (domain.Task, error) {
			return domain.Task{}, domain.ErrNoCandidates
		},
	}
	e := newTestServer(t, b, staticAuth{userID: "alice"})

	rec := doRequest(e, http.MethodPost, "/api/tasks", `{"title":"Ship release"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestPostTaskRejectsUnknownFields(t *testing.T) {
	e := newTestServer(t, &stubBoard{}, staticAuth{userID: "alice"})
	rec := doRequest(e, http.MethodPost, "/api/tasks", `{"title":"x","bogus":1}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestPutTaskLockConflictMapsTo409(t *testing.T) {
	b := &stubBoard{
		updateFn: func(context.Context, string, string, string, board.TaskChanges) (domain.Task, error) {
			return domain.Task{}, &domain.LockConflictError{TaskID: "t1", Holder: "bob"}
		},
	}
	e := newTestServer(t, b, staticAuth{userID: "alice"})

	rec := doRequest(e, http.MethodPut, "/api/tasks/t1", `{"title":"x"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Holder != "bob" {
		t.Fatalf("expected holder in conflict body: %+v", resp)
	}
}

func TestMoveTaskRejectsUnknownStatus(t *testing.T) {
	e := newTestServer(t, &stubBoard{}, staticAuth{userID: "alice"})
	rec := doRequest(e, http.MethodPost, "/api/tasks/t1/move", `{"status":"archived","order":0}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteTaskErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"permission", &domain.PermissionError{TaskID: "t1", UserID: "mallory"}, http.StatusForbidden},
		{"not_found", &domain.NotFoundError{TaskID: "t1"}, http.StatusNotFound},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &stubBoard{
				deleteFn: func(context.Context, string, string, string) error { return tc.err },
			}
			e := newTestServer(t, b, staticAuth{userID: "mallory"})
			rec := doRequest(e, http.MethodDelete, "/api/tasks/t1", "", nil)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestReorderForwardsPositions(t *testing.T) {
	var got []domain.TaskPosition
	b := &stubBoard{
		reorderFn: func(_ context.Context, _, _ string, positions []domain.TaskPosition) error {
			got = positions
			return nil
		},
	}
	e := newTestServer(t, b, staticAuth{userID: "alice"})

	body := `{"positions":[{"id":"T1","status":"todo","order":0},{"id":"T2","status":"todo","order":1}]}`
	rec := doRequest(e, http.MethodPost, "/api/tasks/reorder", body, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if len(got) != 2 || got[0].ID != "T1" || got[1].Order != 1 {
		t.Fatalf("positions not forwarded: %+v", got)
	}
}

func TestAcquireLockReturnsSession(t *testing.T) {
	b := &stubBoard{
		acquireLockFn: func(_ context.Context, userID, _, taskID string) (board.LockSession, error) {
			return board.LockSession{TaskID: taskID, UserID: userID}, nil
		},
	}
	e := newTestServer(t, b, staticAuth{userID: "alice"})

	rec := doRequest(e, http.MethodPost, "/api/tasks/t1/lock", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp lockResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TaskID != "t1" || resp.LockedBy != "alice" {
		t.Fatalf("unexpected lock response: %+v", resp)
	}
}

func TestReleaseLockAlwaysSucceeds(t *testing.T) {
	var released bool
	b := &stubBoard{
		releaseLockFn: func(userID, _, taskID string) { released = userID == "alice" && taskID == "t1" },
	}
	e := newTestServer(t, b, staticAuth{userID: "alice"})

	rec := doRequest(e, http.MethodDelete, "/api/tasks/t1/lock", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !released {
		t.Fatal("release not forwarded")
	}
}

func TestGetActivityValidatesLimit(t *testing.T) {
	b := &stubBoard{
		activityFn: func(_ context.Context, limit int) ([]domain.ActivityRecord, error) {
			if limit != 10 {
				t.Fatalf("unexpected limit: %d", limit)
			}
			return []domain.ActivityRecord{{ID: "a1"}}, nil
		},
	}
	e := newTestServer(t, b, staticAuth{userID: "alice"})

	if rec := doRequest(e, http.MethodGet, "/api/activity?limit=10", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec := doRequest(e, http.MethodGet, "/api/activity?limit=-3", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestPostEventRequiresConnectionID(t *testing.T) {
	e := newTestServer(t, &stubBoard{}, staticAuth{userID: "alice"})
	rec := doRequest(e, http.MethodPost, "/api/events", `{"type":"typing_start","taskId":"t1"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPostEventRelays(t *testing.T) {
	var got domain.Event
	b := &stubBoard{
		relayFn: func(connID string, ev domain.Event) error {
			if connID != "conn-1" {
				t.Fatalf("unexpected connection: %s", connID)
			}
			got = ev
			return nil
		},
	}
	e := newTestServer(t, b, staticAuth{userID: "alice"})

	rec := doRequest(e, http.MethodPost, "/api/events",
		`{"type":"cursor_position","taskId":"t1","data":{"x":3}}`,
		map[string]string{connectionHeader: "conn-1"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if got.Type != domain.EventCursorPosition || got.TaskID != "t1" || len(got.Data) == 0 {
		t.Fatalf("unexpected relayed event: %+v", got)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestServer(t, &stubBoard{}, staticAuth{userID: "alice"})
	rec := doRequest(e, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
