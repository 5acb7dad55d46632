package repositories

import (
	"fmt"

	"github.com/tphan267/arqut-relay/pkg/models"
	"gorm.io/gorm"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) (*EventRepository, error) {
	if err := db.AutoMigrate(&models.ConnectionEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate connection events: %w", err)
	}
	return &EventRepository{db: db}, nil
}

// Add stores a batch of events
func (r *EventRepository) Add(events ...*models.ConnectionEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.Create(events).Error
}

// Recent returns up to limit events, newest first. kind filters when non-empty.
func (r *EventRepository) Recent(limit int, kind string) ([]*models.ConnectionEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	q := r.db.Order("id DESC").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}

	var events []*models.ConnectionEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// ForConnection returns the events of one connection in insertion order
func (r *EventRepository) ForConnection(connectionID uint64) ([]*models.ConnectionEvent, error) {
	var events []*models.ConnectionEvent
	if err := r.db.Where("connection_id = ?", connectionID).Order("id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CountByKind returns how many stored events there are of each kind
func (r *EventRepository) CountByKind() (map[string]int64, error) {
	var rows []models.KindCount
	if err := r.db.Model(&models.ConnectionEvent{}).
		Select("kind, COUNT(*) AS count").
		Group("kind").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Kind] = row.Count
	}
	return counts, nil
}

func (r *EventRepository) Count() (int, error) {
	var count int64
	if err := r.db.Model(&models.ConnectionEvent{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// Prune keeps the newest keep events and deletes the rest
func (r *EventRepository) Prune(keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	var cutoff models.ConnectionEvent
	err := r.db.Order("id DESC").Offset(keep).Limit(1).Find(&cutoff).Error
	if err != nil {
		return 0, err
	}
	if cutoff.ID == 0 {
		return 0, nil
	}

	res := r.db.Where("id <= ?", cutoff.ID).Delete(&models.ConnectionEvent{})
	return res.RowsAffected, res.Error
}

// Clear removes all events
func (r *EventRepository) Clear() error {
	return r.db.Delete(&models.ConnectionEvent{}, "1=1").Error
}
