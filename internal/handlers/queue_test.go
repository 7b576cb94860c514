package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mishalsheza/queue-ease/internal/auth"
	"github.com/mishalsheza/queue-ease/internal/models"
	"github.com/mishalsheza/queue-ease/internal/queue"
	"github.com/mishalsheza/queue-ease/internal/response"
	"github.com/mishalsheza/queue-ease/internal/storage"
	"github.com/mishalsheza/queue-ease/internal/ws"
)

// authMiddlewareTest trusts the X-Test-UserID and X-Test-Role headers.
func authMiddlewareTest() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader("X-Test-UserID"); id != "" {
			role := models.Role(c.GetHeader("X-Test-Role"))
			if role == "" {
				role = models.RoleUser
			}
			auth.SetActor(c, queue.Actor{UserID: id, Role: role})
		}
		c.Next()
	}
}

type testServer struct {
	*httptest.Server
	hub *ws.Hub
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	hub := ws.NewHub(log)
	svc := queue.NewService(storage.NewMemoryStore(), queue.Options{Publisher: hub, Logger: log})

	r := gin.New()
	api := r.Group("/api", authMiddlewareTest())
	NewQueueHandler(svc, log).Routes(api.Group("/queues"))
	wsHandler := ws.NewHandler(hub, log)
	api.GET("/queues/:id/ws", wsHandler.QueueWebSocket)
	api.GET("/ws", wsHandler.AllQueuesWebSocket)

	ts := &testServer{Server: httptest.NewServer(r), hub: hub}
	t.Cleanup(ts.Close)
	return ts
}

type caller struct {
	id   string
	role models.Role
}

func newCaller(role models.Role) caller {
	return caller{id: uuid.NewString(), role: role}
}

func (ts *testServer) do(t *testing.T, who caller, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if who.id != "" {
		req.Header.Set("X-Test-UserID", who.id)
		req.Header.Set("X-Test-Role", string(who.role))
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func errorCode(t *testing.T, raw []byte) string {
	return decode[response.ErrorResponse](t, raw).Code
}

func TestQueueFlow(t *testing.T) {
	ts := setupTestServer(t)
	admin := newCaller(models.RoleAdmin)
	u1, u2 := newCaller(models.RoleUser), newCaller(models.RoleUser)

	status, raw := ts.do(t, admin, http.MethodPost, "/api/queues", CreateQueueRequest{Name: "Dr. Smith Clinic", Section: "B"})
	require.Equal(t, http.StatusCreated, status, string(raw))
	q := decode[models.Queue](t, raw)
	assert.Equal(t, "B", q.Section)
	assert.Equal(t, 15, q.AvgProcessTimeMinutes)
	base := "/api/queues/" + q.ID

	status, raw = ts.do(t, u1, http.MethodPost, base+"/join", nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	status, raw = ts.do(t, u2, http.MethodPost, base+"/join", nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.Len(t, decode[models.Queue](t, raw).WaitingList, 2)

	status, raw = ts.do(t, u2, http.MethodGet, base+"/position", nil)
	require.Equal(t, http.StatusOK, status)
	pos := decode[queue.PositionInfo](t, raw)
	assert.Equal(t, 2, pos.Position)
	assert.Equal(t, 2, pos.TotalUsers)

	status, raw = ts.do(t, u2, http.MethodGet, "/api/queues/my-status", nil)
	require.Equal(t, http.StatusOK, status)
	mine := decode[[]queue.StatusEntry](t, raw)
	require.Len(t, mine, 1)
	assert.Equal(t, "D-2", mine[0].Token)

	status, raw = ts.do(t, admin, http.MethodPost, base+"/call-next", nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	action := decode[response.QueueActionResponse](t, raw)
	require.NotNil(t, action.Queue.NowServing)
	assert.Equal(t, u1.id, action.Queue.NowServing.UserID)
	assert.Equal(t, "D-1", action.Queue.NowServing.Token)

	status, raw = ts.do(t, admin, http.MethodPost, base+"/serve", nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	action = decode[response.QueueActionResponse](t, raw)
	assert.Nil(t, action.Queue.NowServing)
	assert.Equal(t, 1, action.Queue.ServedCount)

	status, raw = ts.do(t, u1, http.MethodGet, "/api/queues/my-history", nil)
	require.Equal(t, http.StatusOK, status)
	history := decode[[]models.Ticket](t, raw)
	require.Len(t, history, 1)
	assert.Equal(t, models.TicketServed, history[0].Status)

	status, raw = ts.do(t, admin, http.MethodGet, "/api/queues/admin/completed-report?queue_id="+q.ID+"&limit=5", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]queue.ReportRow](t, raw), 1)

	status, raw = ts.do(t, admin, http.MethodGet, "/api/queues/admin/users-report", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]queue.ReportRow](t, raw), 2)

	status, raw = ts.do(t, u2, http.MethodPost, base+"/leave", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decode[models.Queue](t, raw).WaitingList)

	status, raw = ts.do(t, admin, http.MethodGet, "/api/queues", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.Queue](t, raw), 1)

	status, _ = ts.do(t, admin, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusOK, status)
	status, raw = ts.do(t, u1, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(t, raw))
}

func TestQueueErrorMapping(t *testing.T) {
	ts := setupTestServer(t)
	admin := newCaller(models.RoleAdmin)
	user := newCaller(models.RoleUser)

	_, raw := ts.do(t, admin, http.MethodPost, "/api/queues", CreateQueueRequest{Name: "Lab"})
	q := decode[models.Queue](t, raw)
	base := "/api/queues/" + q.ID

	cases := []struct {
		name   string
		who    caller
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"anonymous", caller{}, http.MethodPost, base + "/join", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"user creates queue", user, http.MethodPost, "/api/queues", CreateQueueRequest{Name: "Mine"}, http.StatusForbidden, "FORBIDDEN"},
		{"missing name", admin, http.MethodPost, "/api/queues", map[string]string{"type": "x"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"user calls next", user, http.MethodPost, base + "/call-next", nil, http.StatusForbidden, "FORBIDDEN"},
		{"other admin serves", newCaller(models.RoleAdmin), http.MethodPost, base + "/serve", nil, http.StatusForbidden, "FORBIDDEN"},
		{"empty queue", admin, http.MethodPost, base + "/call-next", nil, http.StatusBadRequest, "QUEUE_EMPTY"},
		{"nobody at counter", admin, http.MethodPost, base + "/serve", nil, http.StatusBadRequest, "NO_ONE_SERVING"},
		{"position outside queue", user, http.MethodGet, base + "/position", nil, http.StatusBadRequest, "NOT_IN_QUEUE"},
		{"unknown queue", user, http.MethodPost, "/api/queues/" + uuid.NewString() + "/join", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad limit", admin, http.MethodGet, "/api/queues/admin/completed-report?limit=ten", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"negative limit", admin, http.MethodGet, "/api/queues/admin/completed-report?limit=-3", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"user reads report", user, http.MethodGet, "/api/queues/admin/users-report", nil, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, raw := ts.do(t, tc.who, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, status, string(raw))
			assert.Equal(t, tc.code, errorCode(t, raw))
		})
	}
}

func TestLeaveWhenAbsentSucceeds(t *testing.T) {
	ts := setupTestServer(t)
	admin := newCaller(models.RoleAdmin)
	_, raw := ts.do(t, admin, http.MethodPost, "/api/queues", CreateQueueRequest{Name: "Lab"})
	q := decode[models.Queue](t, raw)

	status, raw := ts.do(t, newCaller(models.RoleUser), http.MethodPost, "/api/queues/"+q.ID+"/leave", nil)
	assert.Equal(t, http.StatusOK, status, string(raw))
}

func dialWS(t *testing.T, ts *testServer, path string, who caller) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("X-Test-UserID", who.id)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+path, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var event map[string]any
	require.NoError(t, json.Unmarshal(msg, &event))
	return event
}

func TestQueueWebSocketReceivesSnapshots(t *testing.T) {
	ts := setupTestServer(t)
	admin := newCaller(models.RoleAdmin)
	user := newCaller(models.RoleUser)

	_, raw := ts.do(t, admin, http.MethodPost, "/api/queues", CreateQueueRequest{Name: "Lab"})
	q := decode[models.Queue](t, raw)
	_, raw = ts.do(t, admin, http.MethodPost, "/api/queues", CreateQueueRequest{Name: "Radiology"})
	other := decode[models.Queue](t, raw)

	scoped := dialWS(t, ts, "/api/queues/"+q.ID+"/ws", user)
	dashboard := dialWS(t, ts, "/api/ws", admin)
	require.Eventually(t, func() bool {
		return ts.hub.Count(q.ID) == 1 && ts.hub.Count(ws.AllQueues) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// an event on another queue reaches only the dashboard
	status, _ := ts.do(t, user, http.MethodPost, "/api/queues/"+other.ID+"/join", nil)
	require.Equal(t, http.StatusOK, status)
	event := readEvent(t, dashboard)
	assert.Equal(t, other.ID, event["queue_id"])

	status, _ = ts.do(t, user, http.MethodPost, "/api/queues/"+q.ID+"/join", nil)
	require.Equal(t, http.StatusOK, status)
	for _, conn := range []*websocket.Conn{scoped, dashboard} {
		event := readEvent(t, conn)
		assert.Equal(t, "queue_updated", event["event_type"])
		assert.Equal(t, q.ID, event["queue_id"])
		data, ok := event["data"].(map[string]any)
		require.True(t, ok)
		assert.Len(t, data["waiting_list"], 1)
	}

	status, _ = ts.do(t, admin, http.MethodDelete, "/api/queues/"+q.ID, nil)
	require.Equal(t, http.StatusOK, status)
	event = readEvent(t, scoped)
	assert.Equal(t, "queue_removed", event["event_type"])
	assert.NotContains(t, event, "data")
}

func TestReportRoutes(t *testing.T) {
	ts := setupTestServer(t)
	admin := newCaller(models.RoleAdmin)
	u := newCaller(models.RoleUser)

	_, raw := ts.do(t, admin, http.MethodPost, "/api/queues", CreateQueueRequest{Name: "Lab"})
	q := decode[models.Queue](t, raw)
	base := "/api/queues/" + q.ID
	ts.do(t, u, http.MethodPost, base+"/join", nil)
	ts.do(t, admin, http.MethodPost, base+"/call-next", nil)
	status, raw := ts.do(t, admin, http.MethodPost, base+"/serve", nil)
	require.Equal(t, http.StatusOK, status, string(raw))

	status, raw = ts.do(t, admin, http.MethodGet, "/api/queues/admin/completed-report?queue_id="+q.ID, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	rows := decode[[]queue.ReportRow](t, raw)
	require.Len(t, rows, 1)
	assert.Equal(t, "L-1", rows[0].Token)
	assert.Equal(t, "Unknown", rows[0].Name)

	status, raw = ts.do(t, admin, http.MethodGet, "/api/queues/admin/completed-report?limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, raw))

	status, raw = ts.do(t, u, http.MethodGet, "/api/queues/admin/users-report", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(t, raw))

	status, raw = ts.do(t, u, http.MethodGet, "/api/queues/my-history", nil)
	require.Equal(t, http.StatusOK, status)
	history := decode[[]models.Ticket](t, raw)
	require.Len(t, history, 1)
	assert.Equal(t, models.TicketServed, history[0].Status)
}
