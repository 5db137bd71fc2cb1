package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"sentinel-agent-go/src/configs"
	auth "sentinel-agent-go/src/core/Auth"
	"sentinel-agent-go/src/core/state"
	"sentinel-agent-go/src/core/utils"
	"sentinel-agent-go/src/feed"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testSecret = "control-test-secret"

func testRouter(t *testing.T, authEnabled bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &configs.Config{}
	cfg.ApplyDefaults()
	cfg.Server.Auth.Enabled = authEnabled
	cfg.Server.Auth.Token = testSecret
	cfg.Log.LogDir = t.TempDir()
	cfg.Log.LogFile = "test.log"

	logger, err := utils.NewLogger(cfg)
	if err != nil {
		t.Fatalf("创建测试日志失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "control.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	settings, err := state.NewSettingsStore(db, logger)
	if err != nil {
		t.Fatalf("NewSettingsStore failed: %v", err)
	}
	events, err := state.NewEventLog(db, logger)
	if err != nil {
		t.Fatalf("NewEventLog failed: %v", err)
	}

	feedServer := feed.NewServer(cfg, settings, events, nil, logger)
	svc := NewService(cfg, settings, events, feedServer, logger)

	router := gin.New()
	api := router.Group("/api")
	if err := svc.Start(context.Background(), router, api); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return router
}

func doRequest(router *gin.Engine, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGuardRejectsMissingToken(t *testing.T) {
	router := testRouter(t, true)
	if w := doRequest(router, "GET", "/api/status", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", w.Code)
	}
	if w := doRequest(router, "GET", "/api/status", "not-a-token", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("status with bad token = %d, want 401", w.Code)
	}
}

func TestGuardAcceptsSharedSecret(t *testing.T) {
	router := testRouter(t, true)
	if w := doRequest(router, "GET", "/api/status", testSecret, nil); w.Code != http.StatusOK {
		t.Fatalf("status with shared secret = %d, want 200", w.Code)
	}
}

func TestPageTokenMintAndUse(t *testing.T) {
	router := testRouter(t, true)

	body, _ := json.Marshal(map[string]string{"page_id": "p1"})
	w := doRequest(router, "POST", "/api/page-token", testSecret, body)
	if w.Code != http.StatusOK {
		t.Fatalf("page-token mint = %d, want 200", w.Code)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("no token in response: %s", w.Body.String())
	}

	// The minted token verifies against the same secret the feed gate uses.
	isValid, pageID, err := auth.NewAuthToken(testSecret).VerifyToken(resp.Token)
	if err != nil || !isValid {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if pageID != "p1" {
		t.Fatalf("page_id claim = %q, want p1", pageID)
	}

	// And it grants access to the guarded routes.
	if w := doRequest(router, "GET", "/api/status", resp.Token, nil); w.Code != http.StatusOK {
		t.Fatalf("status with minted token = %d, want 200", w.Code)
	}
}

func TestRoutesOpenWhenAuthDisabled(t *testing.T) {
	router := testRouter(t, false)
	if w := doRequest(router, "GET", "/api/status", "", nil); w.Code != http.StatusOK {
		t.Fatalf("status without auth = %d, want 200", w.Code)
	}
}
