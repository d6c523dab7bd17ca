package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/climbclub/ticketdesk/pkg/enums"
)

// OrderRecord links a sold ticket to the gateway order that bought it.
// TicketID is the primary key: a ticket belongs to exactly one order.
type OrderRecord struct {
	TicketID  uuid.UUID        `gorm:"column:ticket_id;type:uuid;primaryKey"`
	OrderID   string           `gorm:"column:order_id;not null;index:idx_order_records_order"`
	State     enums.OrderState `gorm:"column:state;type:text;not null"`
	CreatedAt time.Time        `gorm:"column:created_at;not null;index:idx_order_records_created"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (OrderRecord) TableName() string { return "order_records" }
