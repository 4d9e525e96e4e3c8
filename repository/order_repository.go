package repository

import (
	"context"
	"time"

	"order-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransitionGuard inspects the current status inside the transition
// transaction and returns an error to abort it.
type TransitionGuard func(current string) error

// OrderRepository defines data-access operations for orders and their
// status history.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order, initial models.OrderStatusHistory) error
	FindByID(ctx context.Context, id uint) (*models.Order, error)
	FindByIDAndUserID(ctx context.Context, id uint, userID string) (*models.Order, error)
	FindByUserID(ctx context.Context, userID string, page, limit int) ([]models.Order, int64, error)
	FindByStatus(ctx context.Context, status string, page, limit int) ([]models.Order, int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	LatestStatus(ctx context.Context, orderID uint) (string, error)
	History(ctx context.Context, orderID uint) ([]models.OrderStatusHistory, error)
	// Transition locks the order, checks guard against the newest history
	// status, then updates the order and appends entry in one transaction.
	// It returns the updated order and the status it moved from.
	Transition(ctx context.Context, orderID uint, entry models.OrderStatusHistory, guard TransitionGuard) (*models.Order, string, error)
}

// GormOrderRepository implements OrderRepository using GORM.
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository.
func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order, initial models.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("History").Create(order).Error; err != nil {
			return err
		}
		initial.OrderID = order.ID
		if initial.CreatedAt.IsZero() {
			initial.CreatedAt = time.Now()
		}
		if err := tx.Create(&initial).Error; err != nil {
			return err
		}
		order.History = []models.OrderStatusHistory{initial}
		return nil
	})
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *GormOrderRepository) FindByIDAndUserID(ctx context.Context, id uint, userID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ? AND user_id = ?", id, userID).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *GormOrderRepository) FindByUserID(ctx context.Context, userID string, page, limit int) ([]models.Order, int64, error) {
	return r.paginate(ctx, r.db.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID), page, limit)
}

func (r *GormOrderRepository) FindByStatus(ctx context.Context, status string, page, limit int) ([]models.Order, int64, error) {
	return r.paginate(ctx, r.db.WithContext(ctx).Model(&models.Order{}).Where("status = ?", status), page, limit)
}

func (r *GormOrderRepository) paginate(ctx context.Context, query *gorm.DB, page, limit int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.
		Preload("Items").
		Offset(offset).Limit(limit).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *GormOrderRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *GormOrderRepository) LatestStatus(ctx context.Context, orderID uint) (string, error) {
	return latestStatus(r.db.WithContext(ctx), orderID)
}

func (r *GormOrderRepository) History(ctx context.Context, orderID uint) ([]models.OrderStatusHistory, error) {
	var history []models.OrderStatusHistory
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&history).Error; err != nil {
		return nil, err
	}
	return history, nil
}

func (r *GormOrderRepository) Transition(ctx context.Context, orderID uint, entry models.OrderStatusHistory, guard TransitionGuard) (*models.Order, string, error) {
	var order models.Order
	var previous string

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, "id = ?", orderID).Error; err != nil {
			return err
		}

		latest, err := latestEntry(tx, orderID)
		if err != nil {
			return err
		}
		current := latest.Status
		if current == "" {
			current = order.Status
		}
		if guard != nil {
			if err := guard(current); err != nil {
				return err
			}
		}

		entry.CreatedAt = stampAfter(entry.CreatedAt, latest.CreatedAt)
		if err := tx.Model(&order).Updates(map[string]interface{}{
			"status":     entry.Status,
			"updated_at": entry.CreatedAt,
		}).Error; err != nil {
			return err
		}

		entry.OrderID = orderID
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		previous = current
		order.Status = entry.Status
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return &order, previous, nil
}

type historyHead struct {
	Status    string
	CreatedAt time.Time
}

// latestEntry returns the newest history row by insertion order, or a zero
// value when the order has none. Rows are only appended under the order's row
// lock, so the highest id is the last committed transition.
func latestEntry(db *gorm.DB, orderID uint) (historyHead, error) {
	var rows []historyHead
	if err := db.Model(&models.OrderStatusHistory{}).
		Select("status, created_at").
		Where("order_id = ?", orderID).
		Order("id DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return historyHead{}, err
	}
	if len(rows) == 0 {
		return historyHead{}, nil
	}
	return rows[0], nil
}

func latestStatus(db *gorm.DB, orderID uint) (string, error) {
	head, err := latestEntry(db, orderID)
	return head.Status, err
}

// stampAfter keeps history timestamps strictly increasing even when the
// proposed time was taken before the lock or the wall clock stepped back.
// Postgres stores microseconds, hence the step.
func stampAfter(proposed, newest time.Time) time.Time {
	if proposed.IsZero() {
		proposed = time.Now()
	}
	if !newest.IsZero() && !proposed.After(newest) {
		return newest.Add(time.Microsecond)
	}
	return proposed
}
