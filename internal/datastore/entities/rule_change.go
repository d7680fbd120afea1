package entities

import "time"

// Rule change operations.
const (
	ChangeOpInsert = "insert"
	ChangeOpUpdate = "update"
	ChangeOpDelete = "delete"
)

// RuleChange is an outbox row appended in the same transaction as every rule
// write. Polling change feeds tail this table by ID.
type RuleChange struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RuleID    uint      `gorm:"not null;index" json:"rule_id"`
	Op        string    `gorm:"size:8;not null" json:"op"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (RuleChange) TableName() string {
	return "alert_rule_changes"
}

// All returns every entity managed by the datastore, in migration order.
func All() []any {
	return []any{
		&AlertRule{},
		&RuleOrigin{},
		&RuleChange{},
		&Vehicle{},
		&Sensor{},
		&Activity{},
	}
}
