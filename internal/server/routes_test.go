package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/InsereNomen/AlderSync/internal/db"
	"github.com/InsereNomen/AlderSync/internal/server/handlers/admin"
	"github.com/InsereNomen/AlderSync/internal/server/handlers/api"
	"github.com/InsereNomen/AlderSync/internal/server/handlers/files"
	"github.com/InsereNomen/AlderSync/internal/server/handlers/tx"
	"github.com/InsereNomen/AlderSync/internal/server/middlewares"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/transaction"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)

type testServer struct {
	t       *testing.T
	handler http.Handler
	svc     *Services
	clock   *clockwork.FakeClock
}

func newTestServer(t *testing.T, mutate ...func(*Config)) *testServer {
	t.Helper()

	config := DefaultConfig()
	config.Storage.Root = t.TempDir()
	config.HTTP.RateLimit = ""
	for _, fn := range mutate {
		fn(config)
	}
	require.NoError(t, config.Validate())

	database, err := db.NewSqliteDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	clock := clockwork.NewFakeClockAt(testEpoch)
	svc, err := NewServices(t.Context(), config, database, clock)
	require.NoError(t, err)

	handler, err := SetupRoutes(svc, config)
	require.NoError(t, err)

	return &testServer{t: t, handler: handler, svc: svc, clock: clock}
}

func (s *testServer) do(req *http.Request, user string) *httptest.ResponseRecorder {
	if user != "" {
		req.Header.Set(middlewares.HeaderUser, user)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) json(method, target, user string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.do(req, user)
}

func (s *testServer) upload(txID, path, user string, content []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", path)
	require.NoError(s.t, err)
	_, err = fw.Write(content)
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/tx/"+txID+"/files?path="+path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req, user)
}

func (s *testServer) begin(user string, mode synctypes.Mode, entries ...synctypes.ClientEntry) *httptest.ResponseRecorder {
	return s.json(http.MethodPost, "/api/v1/tx/begin", user, transaction.BeginRequest{
		ServiceType: synctypes.Contemporary,
		Mode:        mode,
		Manifest: synctypes.ClientManifest{
			ServiceType: synctypes.Contemporary,
			Entries:     entries,
		},
	})
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func entry(path string, content []byte, at time.Time) synctypes.ClientEntry {
	return synctypes.ClientEntry{
		Path:        path,
		ModifiedAt:  at,
		Size:        int64(len(content)),
		ContentHash: utils.BytesHash(content),
	}
}

func TestHealthAndIndex(t *testing.T) {
	s := newTestServer(t)

	w := s.json(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = s.json(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "AlderSync")

	w = s.json(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPushThenReadBack(t *testing.T) {
	s := newTestServer(t)
	content := []byte("order of service")
	modified := testEpoch.Add(-time.Hour)

	w := s.begin("alice", synctypes.ModePush, entry("songs/opening.txt", content, modified))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	begin := decode[tx.BeginResponse](t, w)
	require.Len(t, begin.Plan.Actions, 1)
	assert.Equal(t, synctypes.ActionUpload, begin.Plan.Actions[0].Kind)

	w = s.json(http.MethodGet, "/api/v1/tx/"+begin.TransactionID+"/plan", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[tx.PlanResponse](t, w).Plan.Actions, 1)

	w = s.upload(begin.TransactionID, "songs/opening.txt", "alice", content)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	staged := decode[tx.UploadResponse](t, w)
	assert.Equal(t, utils.BytesHash(content), staged.ContentHash)
	assert.EqualValues(t, len(content), staged.Size)

	w = s.json(http.MethodPost, "/api/v1/tx/"+begin.TransactionID+"/apply", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[transaction.Result](t, w)
	assert.Equal(t, transaction.StateCommitted, res.Status)
	assert.Equal(t, 1, res.Uploaded)

	w = s.json(http.MethodGet, "/api/v1/files/Contemporary/content?path=songs/opening.txt", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, content, w.Body.Bytes())
	assert.Equal(t, "0", w.Header().Get(files.HeaderRevision))
	assert.Equal(t, utils.BytesHash(content), w.Header().Get(files.HeaderContentHash))
	assert.Equal(t, modified.Format(time.RFC3339), w.Header().Get(files.HeaderModifiedAt))

	w = s.json(http.MethodGet, "/api/v1/files/Contemporary?glob=songs/**", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[files.ListResponse](t, w)
	require.Len(t, list.Files, 1)
	assert.Equal(t, "songs/opening.txt", list.Files[0].Path)
	assert.Equal(t, "alice", list.Files[0].Owner)

	w = s.json(http.MethodGet, "/api/v1/files/Contemporary?glob=*.pdf", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[files.ListResponse](t, w).Files)

	w = s.json(http.MethodGet, "/api/v1/files/Contemporary/history?path=songs/opening.txt", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[files.HistoryResponse](t, w).Revisions, 1)

	// the lock is gone once the transaction ends
	w = s.json(http.MethodGet, "/api/v1/status", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, st := range decode[admin.StatusResponse](t, w).Services {
		assert.False(t, st.Locked, st.ServiceType)
	}
}

func TestUploadOfUnplannedPathIsRejected(t *testing.T) {
	s := newTestServer(t)

	w := s.begin("alice", synctypes.ModePush, entry("a.txt", []byte("a"), testEpoch.Add(-time.Hour)))
	require.Equal(t, http.StatusOK, w.Code)
	begin := decode[tx.BeginResponse](t, w)

	w = s.upload(begin.TransactionID, "b.txt", "alice", []byte("b"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, api.CodeInvalidManifest, decode[api.APIError](t, w).Code)
}

func TestBusyServiceType(t *testing.T) {
	s := newTestServer(t)

	w := s.begin("alice", synctypes.ModePull)
	require.Equal(t, http.StatusOK, w.Code)
	s.clock.Advance(5 * time.Second)

	w = s.begin("bob", synctypes.ModePull)
	assert.Equal(t, http.StatusConflict, w.Code)
	apiErr := decode[api.APIError](t, w)
	assert.Equal(t, api.CodeBusy, apiErr.Code)
	assert.Contains(t, apiErr.Message, "alice")

	w = s.json(http.MethodGet, "/api/v1/status", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[admin.StatusResponse](t, w)
	require.Len(t, status.Services, len(synctypes.ServiceTypes))
	for _, st := range status.Services {
		if st.ServiceType == synctypes.Contemporary {
			assert.True(t, st.Locked)
			assert.Equal(t, "alice", st.Holder)
			assert.Contains(t, st.Message, "alice")
		} else {
			assert.False(t, st.Locked)
		}
	}
}

func TestBeginRejectsInvalidManifest(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{
			name: "service type mismatch",
			body: transaction.BeginRequest{
				ServiceType: synctypes.Contemporary,
				Mode:        synctypes.ModePull,
				Manifest:    synctypes.ClientManifest{ServiceType: synctypes.Traditional},
			},
		},
		{
			name: "escaping path",
			body: transaction.BeginRequest{
				ServiceType: synctypes.Contemporary,
				Mode:        synctypes.ModePush,
				Manifest: synctypes.ClientManifest{
					Entries: []synctypes.ClientEntry{{Path: "../etc/passwd", ModifiedAt: testEpoch}},
				},
			},
		},
		{
			name: "malformed json",
			body: "not a request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.json(http.MethodPost, "/api/v1/tx/begin", "alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, api.CodeInvalidManifest, decode[api.APIError](t, w).Code)
		})
	}

	// nothing was locked by the rejected requests
	assert.False(t, s.svc.Locks.IsHeld(synctypes.Contemporary))
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		code   string
	}{
		{"unknown transaction", http.MethodGet, "/api/v1/tx/0b5e2a4e-6a4f-4a43-9d53-3f4e7f7c1f00/plan", api.CodeTxNotFound},
		{"apply unknown transaction", http.MethodPost, "/api/v1/tx/0b5e2a4e-6a4f-4a43-9d53-3f4e7f7c1f00/apply", api.CodeTxNotFound},
		{"unknown service", http.MethodGet, "/api/v1/files/Baroque", api.CodeNotFound},
		{"missing file", http.MethodGet, "/api/v1/files/Traditional/content?path=missing.txt", api.CodeNotFound},
		{"missing history", http.MethodGet, "/api/v1/files/Traditional/history?path=missing.txt", api.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.json(tt.method, tt.target, "alice", nil)
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, tt.code, decode[api.APIError](t, w).Code)
		})
	}
}

func TestTransactionBelongsToOwner(t *testing.T) {
	s := newTestServer(t)

	w := s.begin("alice", synctypes.ModePull)
	require.Equal(t, http.StatusOK, w.Code)
	id := decode[tx.BeginResponse](t, w).TransactionID

	w = s.json(http.MethodPost, "/api/v1/tx/"+id+"/rollback", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.json(http.MethodPost, "/api/v1/tx/"+id+"/rollback", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, transaction.StateRolledBack, decode[transaction.Result](t, w).Status)

	w = s.begin("bob", synctypes.ModePull)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminCancel(t *testing.T) {
	s := newTestServer(t)

	w := s.begin("alice", synctypes.ModePull)
	require.Equal(t, http.StatusOK, w.Code)
	id := decode[tx.BeginResponse](t, w).TransactionID

	w = s.json(http.MethodGet, "/api/v1/admin/transactions", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	active := decode[admin.TransactionsResponse](t, w).Transactions
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)
	assert.Equal(t, "alice", active[0].Owner)

	w = s.json(http.MethodPost, "/api/v1/admin/transactions/"+id+"/cancel", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.json(http.MethodPost, "/api/v1/tx/"+id+"/apply", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.json(http.MethodGet, "/api/v1/admin/operations?limit=10", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ops := decode[admin.OperationsResponse](t, w).Operations
	require.Len(t, ops, 1)
	assert.Equal(t, transaction.OperationCancelledByAdmin, ops[0].Status)

	w = s.json(http.MethodPost, "/api/v1/admin/transactions/"+id+"/cancel", "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestoreThroughAPI(t *testing.T) {
	s := newTestServer(t)

	push := func(content []byte, at time.Time) {
		w := s.json(http.MethodPost, "/api/v1/tx/begin", "alice", transaction.BeginRequest{
			ServiceType: synctypes.Traditional,
			Mode:        synctypes.ModePush,
			Manifest: synctypes.ClientManifest{
				ServiceType: synctypes.Traditional,
				LastSync:    at.Add(-time.Minute),
				Entries:     []synctypes.ClientEntry{entry("hymn.txt", content, at)},
			},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		id := decode[tx.BeginResponse](t, w).TransactionID

		req := s.upload(id, "hymn.txt", "alice", content)
		require.Equal(t, http.StatusOK, req.Code, req.Body.String())

		w = s.json(http.MethodPost, "/api/v1/tx/"+id+"/apply", "alice", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Equal(t, transaction.StateCommitted, decode[transaction.Result](t, w).Status)
	}

	push([]byte("verse one"), testEpoch.Add(-2*time.Hour))
	push([]byte("verse two"), testEpoch.Add(-time.Hour))

	w := s.json(http.MethodPost, "/api/v1/files/Traditional/restore", "bob", map[string]any{"path": "hymn.txt", "revision": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.json(http.MethodGet, "/api/v1/files/Traditional/content?path=hymn.txt", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "verse one", w.Body.String())
	assert.Equal(t, "2", w.Header().Get(files.HeaderRevision))

	w = s.json(http.MethodGet, "/api/v1/files/Traditional/content?path=hymn.txt&revision=1", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "verse two", w.Body.String())

	w = s.json(http.MethodPost, "/api/v1/files/Traditional/restore", "bob", map[string]any{"path": "hymn.txt"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthEnabled(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.Auth.Enabled = true
		c.Auth.AccessTokenSecret = "a-secret-of-enough-length"
		c.Auth.Admins = []string{"admin"}
	})

	w := s.json(http.MethodGet, "/api/v1/status", "alice", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, api.CodeAuthInvalidCredentials, decode[api.APIError](t, w).Code)

	authed := func(method, target, subject string) *httptest.ResponseRecorder {
		token, err := s.svc.Auth.IssueAccessToken(subject)
		require.NoError(t, err)
		req := httptest.NewRequest(method, target, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return s.do(req, "")
	}

	assert.Equal(t, http.StatusOK, authed(http.MethodGet, "/api/v1/status", "alice").Code)
	assert.Equal(t, http.StatusForbidden, authed(http.MethodGet, "/api/v1/admin/transactions", "alice").Code)
	assert.Equal(t, http.StatusOK, authed(http.MethodGet, "/api/v1/admin/transactions", "admin").Code)

	// healthz stays open
	assert.Equal(t, http.StatusOK, s.json(http.MethodGet, "/healthz", "", nil).Code)
}

func TestSecureHeadersFollowConfig(t *testing.T) {
	plain := newTestServer(t)
	w := plain.json(http.MethodGet, "/healthz", "", nil)
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	proxied := newTestServer(t, func(c *Config) {
		c.HTTP.BehindProxy = true
		c.HTTP.HSTSMaxAge = time.Hour
	})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w = proxied.do(req, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "max-age=3600; includeSubdomains", w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestContentIsNotCompressed(t *testing.T) {
	s := newTestServer(t)
	content := []byte("la la la")
	w := s.begin("alice", synctypes.ModePush, entry("song.txt", content, testEpoch.Add(-time.Hour)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := decode[tx.BeginResponse](t, w).TransactionID
	require.Equal(t, http.StatusOK, s.upload(id, "song.txt", "alice", content).Code)
	require.Equal(t, http.StatusOK, s.json(http.MethodPost, "/api/v1/tx/"+id+"/apply", "alice", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/Contemporary/content?path=song.txt", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w = s.do(req, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "la la la", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/files/Contemporary", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w = s.do(req, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"missing addr", func(c *Config) { c.HTTP.Addr = "" }, "http.addr"},
		{"cert without key", func(c *Config) { c.HTTP.CertFile = "cert.pem" }, "cert_file"},
		{"negative revisions", func(c *Config) { c.Storage.MaxRevisions = -1 }, "max_revisions"},
		{"unknown blob backend", func(c *Config) { c.Blob.Backend = "ftp" }, "blob"},
		{"bad lock timeout", func(c *Config) { c.Lock.MinTimeout = 0 }, "lock"},
		{"no workers", func(c *Config) { c.Sync.ApplyWorkers = 0 }, "sync"},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true }, "auth"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad access log level", func(c *Config) { c.HTTP.AccessLog.Level = "loud" }, "access_log"},
		{"negative hsts", func(c *Config) { c.HTTP.HSTSMaxAge = -time.Second }, "hsts_max_age"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
