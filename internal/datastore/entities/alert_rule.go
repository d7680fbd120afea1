package entities

import "time"

// Rule status values.
const (
	RuleStatusActive   = "active"
	RuleStatusInactive = "inactive"
	RuleStatusDeleted  = "deleted"
)

// Origin entity kinds.
const (
	OriginKindVehicle = "vehicle"
	OriginKindSensor  = "sensor"
)

// AlertRule is an owner-defined geofence rule. Zone holds a GeoJSON Polygon
// or MultiPolygon in lon/lat order.
type AlertRule struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	Name           string       `gorm:"size:255;not null" json:"name"`
	CompanyID      string       `gorm:"size:64;not null;index" json:"company_id"`
	Status         string       `gorm:"size:16;not null;default:'active';index" json:"status"`
	EvaluationType string       `gorm:"size:16;not null" json:"evaluation_type"`
	Zone           string       `gorm:"type:text;not null" json:"zone"`
	CreatedAt      time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
	Origins        []RuleOrigin `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"origins"`
}

// TableName returns the table name for GORM.
func (AlertRule) TableName() string {
	return "alert_rules"
}

// RuleOrigin references a tracked entity a rule watches. Device identifiers
// are resolved from the entity at cache rebuild time and never stored here.
type RuleOrigin struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	RuleID     uint   `gorm:"not null;index" json:"rule_id"`
	EntityID   string `gorm:"size:64;not null;index" json:"entity_id"`
	EntityKind string `gorm:"size:16;not null" json:"entity_kind"`
}

// TableName returns the table name for GORM.
func (RuleOrigin) TableName() string {
	return "alert_rule_origins"
}
