package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chapterhub/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDLabel(t *testing.T) {
	tests := []struct {
		param    string
		expected string
	}{
		{"id", "ID"},
		{"userId", "user ID"},
		{"snapshotId", "snapshot ID"},
		{"flagReportId", "flag report ID"},
		{"actor_id", "actor ID"},
		{"owner_user_id", "owner user ID"},
		{"something", "something"},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			assert.Equal(t, tt.expected, idLabel(tt.param))
		})
	}
}

func paginationApp() *fiber.App {
	app := fiber.New()
	app.Get("/items", func(c *fiber.Ctx) error {
		p := parsePagination(c, 25)
		return c.JSON(fiber.Map{"limit": p.Limit, "offset": p.Offset})
	})
	return app
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		limit  float64
		offset float64
	}{
		{"defaults", "", 25, 0},
		{"custom", "?limit=10&offset=30", 10, 30},
		{"clamps limit", "?limit=5000", maxPaginationLimit, 0},
		{"negative values", "?limit=-3&offset=-9", 25, 0},
	}
	app := paginationApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/items"+tt.query, nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			var body map[string]float64
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.limit, body["limit"])
			assert.Equal(t, tt.offset, body["offset"])
		})
	}
}

func parseIDApp(param string) *fiber.App {
	app := fiber.New()
	app.Get("/items/:"+param, func(c *fiber.Ctx) error {
		id, err := parseID(c, param)
		if err != nil {
			return models.RespondError(c, err)
		}
		return c.JSON(fiber.Map{"id": id})
	})
	return app
}

func TestParseID_ValidID(t *testing.T) {
	resp, err := parseIDApp("id").Test(httptest.NewRequest(http.MethodGet, "/items/42", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]float64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(42), body["id"])
}

func TestParseID_Rejects(t *testing.T) {
	tests := []struct {
		param       string
		path        string
		expectedMsg string
	}{
		{"id", "abc", "Invalid ID"},
		{"id", "0", "Invalid ID"},
		{"id", "-4", "Invalid ID"},
		{"snapshotId", "abc", "Invalid snapshot ID"},
	}
	for _, tt := range tests {
		t.Run(tt.param+"/"+tt.path, func(t *testing.T) {
			resp, err := parseIDApp(tt.param).Test(httptest.NewRequest(http.MethodGet, "/items/"+tt.path, nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body models.Envelope
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.expectedMsg, body.Message)
			assert.Equal(t, models.CodeValidation, body.Code)
		})
	}
}

func TestParseQueryTime(t *testing.T) {
	app := fiber.New()
	app.Get("/t", func(c *fiber.Ctx) error {
		ts, err := parseQueryTime(c, "from")
		if err != nil {
			return models.RespondError(c, err)
		}
		if ts == nil {
			return c.SendString("none")
		}
		return c.SendString(ts.Format("2006-01-02T15:04:05Z07:00"))
	})

	tests := []struct {
		query  string
		status int
		body   string
	}{
		{"", http.StatusOK, "none"},
		{"?from=2026-03-01T10:00:00%2B02:00", http.StatusOK, "2026-03-01T08:00:00Z"},
		{"?from=yesterday", http.StatusBadRequest, "RFC 3339"},
	}
	for _, tt := range tests {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/t"+tt.query, nil))
		require.NoError(t, err)
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		_ = resp.Body.Close()

		assert.Equal(t, tt.status, resp.StatusCode, tt.query)
		assert.Contains(t, string(raw), tt.body, tt.query)
	}
}

func TestParseBody_AllowsEmptyBody(t *testing.T) {
	app := fiber.New()
	app.Post("/b", func(c *fiber.Ctx) error {
		var req RegenerateRequest
		if err := parseBody(c, &req); err != nil {
			return models.RespondError(c, err)
		}
		return c.SendString("kind=" + req.Kind)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/b", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	req := httptest.NewRequest(http.MethodPost, "/b", strings.NewReader("{not json"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}
