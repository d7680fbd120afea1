package entities

import "time"

// Vehicle is a fleet vehicle carrying a tracking device. DeviceID changes
// when hardware is swapped.
type Vehicle struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CompanyID string    `gorm:"size:64;not null;index" json:"company_id"`
	DeviceID  string    `gorm:"size:64;index" json:"device_id"`
	Plate     string    `gorm:"size:32;default:''" json:"plate"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Vehicle) TableName() string {
	return "vehicles"
}

// Sensor is a fixed or portable sensor that reports positions.
type Sensor struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CompanyID string    `gorm:"size:64;not null;index" json:"company_id"`
	DeviceID  string    `gorm:"size:64;index" json:"device_id"`
	Label     string    `gorm:"size:128;default:''" json:"label"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Sensor) TableName() string {
	return "sensors"
}
