package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/climbclub/ticketdesk/pkg/enums"
)

// Issue is the operator-facing record for an order the pipeline could not
// finish on its own. One row per order id.
type Issue struct {
	OrderID        string            `gorm:"column:order_id;primaryKey"`
	Description    string            `gorm:"column:description;not null"`
	Status         enums.IssueStatus `gorm:"column:status;type:text;not null;index:idx_issues_status_created,priority:1"`
	Reason         enums.IssueReason `gorm:"column:reason;type:text;not null"`
	Flags          int               `gorm:"column:flags;not null;default:0"`
	Order          datatypes.JSON    `gorm:"column:order_snapshot"`
	PanelChannelID *string           `gorm:"column:panel_channel_id"`
	PanelMessageID *string           `gorm:"column:panel_message_id"`
	CreatedAt      time.Time         `gorm:"column:created_at;not null;index:idx_issues_status_created,priority:2"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;not null"`
}

func (Issue) TableName() string { return "issues" }
