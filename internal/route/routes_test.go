package route

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgecloud/internal/logger"
	"edgecloud/internal/repository/sqlite"
	"edgecloud/internal/service/display"
	"edgecloud/internal/transport"
)

func get(t *testing.T, h http.Handler, target, token string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestSetupDeviceRoutes(t *testing.T) {
	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	h := SetupDeviceRoutes(display.NewHub(logger.NewNop()), sqlite.NewRunRepository(db), sqlite.NewDetectionRepository(db),
		Options{LogDirectory: t.TempDir(), Token: "secret"}, logger.NewNop())

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/runs", ""))
	assert.Equal(t, http.StatusOK, get(t, h, "/api/runs", "secret"))
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/run?run=5", "secret"))
	assert.Equal(t, http.StatusNotFound, get(t, h, "/logs/info", "secret"))
}

func TestSetupDeviceRoutes_WithoutDatabase(t *testing.T) {
	h := SetupDeviceRoutes(display.NewHub(logger.NewNop()), nil, nil, Options{LogDirectory: t.TempDir()}, logger.NewNop())

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/runs", ""))
}

func TestSetupEdgeServerRoutes(t *testing.T) {
	server := transport.NewServer(nil, logger.NewNop())
	h := SetupEdgeServerRoutes(server, Options{LogDirectory: t.TempDir()}, logger.NewNop())

	assert.Equal(t, http.StatusOK, get(t, h, "/api/clients", ""))
	// A plain GET is not a websocket handshake.
	assert.Equal(t, http.StatusBadRequest, get(t, h, transport.DetectPath, ""))
}
