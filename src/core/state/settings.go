package state

import (
	"errors"
	"strconv"
	"sync"

	"sentinel-agent-go/src/core/utils"
	"sentinel-agent-go/src/models"

	"gorm.io/gorm"
)

// MonitoringKey is the persisted flag shared with the popup control surface.
const MonitoringKey = "sentinelActive"

// SettingsStore holds the persisted monitoring toggle and fans changes out
// to subscribers. Dependents cache the boolean locally and never re-read the
// store per event; a read failure degrades to default-enabled.
type SettingsStore struct {
	db     *gorm.DB
	logger *utils.Logger

	mu     sync.Mutex
	subs   map[int]func(bool)
	nextID int
}

// NewSettingsStore migrates the settings table and returns the store.
func NewSettingsStore(db *gorm.DB, logger *utils.Logger) (*SettingsStore, error) {
	if err := db.AutoMigrate(&models.Setting{}); err != nil {
		return nil, err
	}
	return &SettingsStore{
		db:     db,
		logger: logger,
		subs:   make(map[int]func(bool)),
	}, nil
}

// LoadMonitoring reads the persisted flag. Absence or a read failure both
// resolve to true, so monitoring never silently turns itself off.
func (s *SettingsStore) LoadMonitoring() bool {
	var row models.Setting
	err := s.db.First(&row, "key = ?", MonitoringKey).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("读取监控开关失败，按默认开启处理", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return true
	}
	enabled, err := strconv.ParseBool(row.Value)
	if err != nil {
		return true
	}
	return enabled
}

// SetMonitoring persists the flag and notifies every subscriber with the new
// value. Subscribers run on the caller's goroutine; sessions post the update
// onto their own loop.
func (s *SettingsStore) SetMonitoring(enabled bool) error {
	row := models.Setting{Key: MonitoringKey, Value: strconv.FormatBool(enabled)}
	err := s.db.Save(&row).Error
	if err != nil {
		return err
	}

	s.mu.Lock()
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(enabled)
	}
	return nil
}

// OnChange subscribes fn to toggle changes. The returned function removes
// the subscription; sessions call it when their page disconnects.
func (s *SettingsStore) OnChange(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
