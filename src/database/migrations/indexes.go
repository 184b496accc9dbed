package migrations

import "gorm.io/gorm"

// createOrderHistoryIndex backs the per-user history listing, newest first.
func createOrderHistoryIndex(db *gorm.DB) error {
	return db.Exec("CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders (user_id, created_at DESC)").Error
}

// createExecutionAttemptIndex keeps one execution row per order attempt.
func createExecutionAttemptIndex(db *gorm.DB) error {
	return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_order_executions_attempt ON order_executions (order_id, attempt)").Error
}
