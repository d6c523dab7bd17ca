package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ticket is one deliverable unit of inventory. URL is the object key of the
// ticket file in the content bucket.
type Ticket struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	URL       string    `gorm:"column:url;not null;index:idx_tickets_url"`
	Sold      bool      `gorm:"column:sold;not null;default:false;index:idx_tickets_unsold,priority:1"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_tickets_unsold,priority:2"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Ticket) TableName() string { return "tickets" }

func (t *Ticket) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return nil
}
