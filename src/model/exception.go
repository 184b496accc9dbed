package model

import "time"

// Exception represents a system-level error that must be persisted
// for auditing, debugging, and monitoring purposes.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Service string `gorm:"size:100;index" json:"service"` // e.g. "order_engine"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "queue"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "finish"

	// Error information
	Message string `gorm:"type:text" json:"message"`

	// Severity level
	Level string `gorm:"size:20;index" json:"level"` // warn | error

	// Order the error belongs to, when there is one
	OrderID string `gorm:"size:36;index" json:"orderId,omitempty"`

	// Extra context serialized as JSON (optional)
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// TableName allows you to control the exact table name for exceptions.
func (Exception) TableName() string {
	return "exceptions"
}
