package state

import (
	"path/filepath"
	"testing"
	"time"

	"sentinel-agent-go/src/configs"
	"sentinel-agent-go/src/core/utils"
	"sentinel-agent-go/src/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testLogger(t *testing.T) *utils.Logger {
	t.Helper()
	cfg := &configs.Config{}
	cfg.Log.LogDir = t.TempDir()
	cfg.Log.LogFile = "test.log"
	logger, err := utils.NewLogger(cfg)
	if err != nil {
		t.Fatalf("创建测试日志失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	return db
}

func TestMonitoringDefaultsToEnabled(t *testing.T) {
	store, err := NewSettingsStore(testDB(t), testLogger(t))
	if err != nil {
		t.Fatalf("NewSettingsStore failed: %v", err)
	}
	if !store.LoadMonitoring() {
		t.Fatal("missing flag must read as enabled")
	}
}

func TestMonitoringRoundTrip(t *testing.T) {
	db := testDB(t)
	logger := testLogger(t)
	store, err := NewSettingsStore(db, logger)
	if err != nil {
		t.Fatalf("NewSettingsStore failed: %v", err)
	}

	if err := store.SetMonitoring(false); err != nil {
		t.Fatalf("SetMonitoring failed: %v", err)
	}
	if store.LoadMonitoring() {
		t.Fatal("persisted false must read back as false")
	}

	// A fresh store over the same database sees the persisted value.
	store2, err := NewSettingsStore(db, logger)
	if err != nil {
		t.Fatalf("NewSettingsStore failed: %v", err)
	}
	if store2.LoadMonitoring() {
		t.Fatal("flag must survive a store restart")
	}
}

func TestMonitoringBadValueDefaultsToEnabled(t *testing.T) {
	db := testDB(t)
	store, err := NewSettingsStore(db, testLogger(t))
	if err != nil {
		t.Fatalf("NewSettingsStore failed: %v", err)
	}
	db.Save(&models.Setting{Key: MonitoringKey, Value: "maybe"})
	if !store.LoadMonitoring() {
		t.Fatal("unparseable flag must read as enabled")
	}
}

func TestOnChangeNotifyAndUnsubscribe(t *testing.T) {
	store, err := NewSettingsStore(testDB(t), testLogger(t))
	if err != nil {
		t.Fatalf("NewSettingsStore failed: %v", err)
	}

	var got []bool
	unsubscribe := store.OnChange(func(enabled bool) {
		got = append(got, enabled)
	})

	if err := store.SetMonitoring(false); err != nil {
		t.Fatalf("SetMonitoring failed: %v", err)
	}
	if len(got) != 1 || got[0] != false {
		t.Fatalf("subscriber got %v, want [false]", got)
	}

	unsubscribe()
	if err := store.SetMonitoring(true); err != nil {
		t.Fatalf("SetMonitoring failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatal("unsubscribed callback must not fire")
	}
}

func TestEventLogRecordAndRecent(t *testing.T) {
	log, err := NewEventLog(testDB(t), testLogger(t))
	if err != nil {
		t.Fatalf("NewEventLog failed: %v", err)
	}

	log.Record(models.ModerationEvent{
		SessionID:   "s1",
		Platform:    "web",
		UserID:      "u1",
		ElementID:   "e1",
		ContentType: "media",
		Label:       "Deepfake",
		Confidence:  87,
	}, map[string]string{"tag": "video"})

	// Writes are asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	var events []models.ModerationEvent
	for time.Now().Before(deadline) {
		events, err = log.Recent(10)
		if err == nil && len(events) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d (err=%v)", len(events), err)
	}
	ev := events[0]
	if ev.Label != "Deepfake" || ev.ContentType != "media" || ev.Confidence != 87 {
		t.Fatalf("event round-trip mismatch: %+v", ev)
	}
	if len(ev.Detail) == 0 {
		t.Fatal("detail payload must be persisted")
	}
}
