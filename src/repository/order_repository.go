package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"orderengine/src/database"
	"orderengine/src/model"
)

// ErrOrderNotFound is returned by writes that target an unknown order.
var ErrOrderNotFound = errors.New("order not found")

// OrderRepository handles read/write operations for orders and their execution results.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Info("Creating new OrderRepository with MainDB")

	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// ---------------------------------------------------
// Order methods
// ---------------------------------------------------

// CreateOrderIfAbsent inserts order unless a row with the same OrderID exists.
// It reports whether a row was inserted.
func (r *OrderRepository) CreateOrderIfAbsent(
	ctx context.Context,
	order *model.Order,
) (bool, error) {

	fields := map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "CreateOrderIfAbsent",
		"order_id": order.OrderID,
	}
	logger.WithFields(fields).Debug("Creating order if absent")

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(order)
	if res.Error != nil {
		logger.WithFields(fields).WithError(res.Error).Error("Failed to create order")
		return false, res.Error
	}

	created := res.RowsAffected > 0
	if created {
		logger.WithFields(fields).Info("Order created successfully")
	}
	return created, nil
}

// GetOrder fetches an order with its execution results, oldest attempt first.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) GetOrder(
	ctx context.Context,
	orderID string,
) (*model.Order, error) {

	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Executions", func(db *gorm.DB) *gorm.DB {
			return db.Order("attempt ASC, id ASC")
		}).
		Where("order_id = ?", orderID).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo":     "OrderRepository",
				"op":       "GetOrder",
				"order_id": orderID,
			}).Debug("Order not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "GetOrder",
			"order_id": orderID,
		}).WithError(err).Error("Failed to fetch order")

		return nil, err
	}

	return &order, nil
}

// UpdateStatus updates only the status of the given order.
func (r *OrderRepository) UpdateStatus(
	ctx context.Context,
	orderID string,
	status model.OrderStatus,
) error {

	fields := map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "UpdateStatus",
		"order_id": orderID,
		"status":   status,
	}

	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_id = ?", orderID).
		Update("status", status)

	if res.Error != nil {
		logger.WithFields(fields).WithError(res.Error).Error("Failed to update order status")
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}

	logger.WithFields(fields).Debug("Order status updated successfully")
	return nil
}

// ListOrderHistory returns the most recent orders of userID, newest first.
func (r *OrderRepository) ListOrderHistory(
	ctx context.Context,
	userID string,
	limit int,
) ([]model.Order, error) {

	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, order_id DESC").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "OrderRepository",
			"op":      "ListOrderHistory",
			"user_id": userID,
		}).WithError(err).Error("Failed to list order history")

		return nil, err
	}
	return orders, nil
}

// ---------------------------------------------------
// ExecutionResult methods
// ---------------------------------------------------

// AppendExecutionResult stores one attempt outcome. A non-empty failureReason
// marks the attempt failed and drops any transaction hash.
func (r *OrderRepository) AppendExecutionResult(
	ctx context.Context,
	result *model.ExecutionResult,
	failureReason string,
) error {

	if failureReason != "" {
		result.FailureReason = &failureReason
		result.TxHash = nil
	}

	if err := r.db.WithContext(ctx).Create(result).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "AppendExecutionResult",
			"order_id": result.OrderID,
			"attempt":  result.Attempt,
		}).WithError(err).Error("Failed to append execution result")

		return err
	}
	return nil
}

// ConfirmExecution stores a successful attempt and moves the order to
// confirmed in one transaction, so neither is visible without the other.
func (r *OrderRepository) ConfirmExecution(
	ctx context.Context,
	result *model.ExecutionResult,
) error {

	fields := map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "ConfirmExecution",
		"order_id": result.OrderID,
		"attempt":  result.Attempt,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(result).Error; err != nil {
			return err
		}
		res := tx.Model(&model.Order{}).
			Where("order_id = ?", result.OrderID).
			Update("status", model.StatusConfirmed)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOrderNotFound
		}
		return nil
	})
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Failed to confirm execution")
		return err
	}

	logger.WithFields(fields).Debug("Execution confirmed")
	return nil
}

// ListExecutions returns every stored attempt of orderID in attempt order.
func (r *OrderRepository) ListExecutions(
	ctx context.Context,
	orderID string,
) ([]model.ExecutionResult, error) {

	var results []model.ExecutionResult
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("attempt ASC, id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
