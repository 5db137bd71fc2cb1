package models

import (
	"time"

	"gorm.io/datatypes"
)

// 持久化的键值对（监控开关等）
type Setting struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string `gorm:"size:255"`
}

// 一条命中记录：某个页面元素被判定为需要处置
type ModerationEvent struct {
	ID          uint   `gorm:"primaryKey"`
	SessionID   string `gorm:"index;size:64"`
	Platform    string `gorm:"size:32"`
	UserID      string `gorm:"size:64"`
	ElementID   string `gorm:"size:64"`
	ContentType string `gorm:"size:16"` // text / media
	Label       string `gorm:"size:64"`
	Confidence  float64
	Detail      datatypes.JSON // 服务端返回的原始分数
	CreatedAt   time.Time
}
