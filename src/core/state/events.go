package state

import (
	"encoding/json"

	"sentinel-agent-go/src/core/utils"
	"sentinel-agent-go/src/models"

	"gorm.io/gorm"
)

// EventLog persists moderation hits. Writes run on their own goroutine so a
// slow database never blocks a session loop; a failed write only logs.
type EventLog struct {
	db     *gorm.DB
	logger *utils.Logger
}

// NewEventLog migrates the events table and returns the log.
func NewEventLog(db *gorm.DB, logger *utils.Logger) (*EventLog, error) {
	if err := db.AutoMigrate(&models.ModerationEvent{}); err != nil {
		return nil, err
	}
	return &EventLog{db: db, logger: logger}, nil
}

// Record stores one hit asynchronously. detail is marshalled as the raw
// score payload; a nil detail is stored as-is.
func (e *EventLog) Record(ev models.ModerationEvent, detail interface{}) {
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			ev.Detail = raw
		}
	}
	go func() {
		if err := e.db.Create(&ev).Error; err != nil {
			e.logger.Warn("写入命中记录失败", map[string]interface{}{
				"element": ev.ElementID,
				"error":   err.Error(),
			})
		}
	}()
}

// Recent returns the newest events, capped at limit.
func (e *EventLog) Recent(limit int) ([]models.ModerationEvent, error) {
	var events []models.ModerationEvent
	err := e.db.Order("id DESC").Limit(limit).Find(&events).Error
	return events, err
}
