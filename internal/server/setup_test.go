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

	"chapterhub/internal/config"
	"chapterhub/internal/models"
	"chapterhub/internal/storage"
	"chapterhub/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testJWTSecret = "test-secret-that-is-at-least-32-characters-long"

type testServer struct {
	s     *Server
	app   *fiber.App
	db    *gorm.DB
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	blobs *storage.MemoryStore
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:            testJWTSecret,
		JWTIssuer:            "chapterhub-api",
		JWTAudience:          "chapterhub-admin",
		Port:                 "0",
		Env:                  "test",
		FeatureFlags:         "admin_self_publish=on,admin_live_feed=on",
		BcryptCost:           4,
		QuotaDefaultVideo:    50,
		QuotaDefaultDocument: 100,
		QuotaDefaultImage:    200,
		QuotaDefaultOther:    100,
		QuotaWarningRatio:    0.8,
		TenantAliases:        "toronto=Toronto Chapter",
		UploadMaxSizeMB:      2,
		SnapshotMaxAgeHours:  24,
		FlagSLOMinutes:       120,
		OutboxBatchSize:      50,
		OutboxMaxAttempts:    8,
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	blobs := storage.NewMemoryStore()

	s, err := NewServerWithDeps(testConfig(), db, rdb, blobs)
	require.NoError(t, err)

	return &testServer{
		s:     s,
		app:   s.App(),
		db:    db,
		mr:    mr,
		rdb:   rdb,
		blobs: blobs,
	}
}

func (ts *testServer) token(t *testing.T, u *models.User) string {
	t.Helper()
	tok, _, err := IssueToken(ts.s.config, u.ID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) admin(t *testing.T) (*models.User, string) {
	t.Helper()
	u := testutil.CreateUser(t, ts.db, models.RoleAdmin, nil)
	return u, ts.token(t, u)
}

// do sends a JSON request. body may be nil.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, models.Envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	return ts.send(t, req, token)
}

// upload sends a multipart upload with a single file part.
func (ts *testServer) upload(t *testing.T, path, token string, fields map[string]string, filename, contentType string, content []byte) (*http.Response, models.Envelope) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if content != nil {
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
		h["Content-Type"] = []string{contentType}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return ts.send(t, req, token)
}

func (ts *testServer) send(t *testing.T, req *http.Request, token string) (*http.Response, models.Envelope) {
	t.Helper()
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env models.Envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &env)
	}
	return resp, env
}

// decodeData re-decodes an envelope payload into dest.
func decodeData(t *testing.T, env models.Envelope, dest any) {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dest))
}

func jsonDecode(resp *http.Response, dest any) error {
	return json.NewDecoder(resp.Body).Decode(dest)
}
