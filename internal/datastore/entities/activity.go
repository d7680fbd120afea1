package entities

import "time"

// Activity is an alert raised by the zone engine. Rows are immutable.
//
// Bucket is the event time truncated to the dedup window and takes part in
// the unique index, so two writers racing on the same origin and
// classification cannot both insert inside one window.
type Activity struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	CompanyID          string    `gorm:"size:64;not null;index" json:"company_id"`
	OriginEntityID     string    `gorm:"size:64;not null;uniqueIndex:idx_activity_dedup,priority:1;index:idx_activity_latest,priority:1" json:"origin_entity_id"`
	OriginKind         string    `gorm:"size:16;not null" json:"origin_kind"`
	ClassificationCode int       `gorm:"not null;uniqueIndex:idx_activity_dedup,priority:2;index:idx_activity_latest,priority:2" json:"classification_code"`
	Bucket             int64     `gorm:"not null;uniqueIndex:idx_activity_dedup,priority:3" json:"-"`
	EventTime          time.Time `gorm:"not null;index:idx_activity_latest,priority:3" json:"event_time"`
	RuleID             uint      `gorm:"not null;index" json:"rule_id"`
	DeviceID           string    `gorm:"size:64;not null" json:"device_id"`
	Title              string    `gorm:"size:255;not null" json:"title"`
	Description        string    `gorm:"size:1000;default:''" json:"description"`
	Longitude          float64   `gorm:"not null" json:"longitude"`
	Latitude           float64   `gorm:"not null" json:"latitude"`
	GeneratedBy        string    `gorm:"size:64;not null" json:"generated_by"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (Activity) TableName() string {
	return "activities"
}
