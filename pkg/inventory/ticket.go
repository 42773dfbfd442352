// pkg/inventory/ticket.go

package inventory

import "time"

// Ticket status values, following the host's numbering.
const (
	TicketStatusIncoming = 1
	TicketStatusAssigned = 2
	TicketStatusSolved   = 5
	TicketStatusClosed   = 6
)

// Ticket is the local ticket row used when no external ticketing host is
// configured.
type Ticket struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	Content      string    `gorm:"type:text" json:"content"`
	Status       int       `gorm:"not null" json:"status"`
	Priority     int       `gorm:"not null" json:"priority"`
	Impact       int       `gorm:"not null" json:"impact"`
	Urgency      int       `gorm:"not null" json:"urgency"`
	CategoryID   uint      `gorm:"column:itilcategories_id" json:"category_id"`
	EntityID     uint      `json:"entity_id"`
	DateCreation time.Time `json:"date_creation"`
}

func (Ticket) TableName() string { return "tickets" }

// ItemTicket links a ticket to an item (device or finding).
type ItemTicket struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	TicketID uint   `gorm:"column:tickets_id;not null;index" json:"ticket_id"`
	ItemType string `gorm:"column:itemtype;size:64;not null" json:"itemtype"`
	ItemID   uint   `gorm:"column:items_id;not null" json:"item_id"`
}

func (ItemTicket) TableName() string { return "items_tickets" }
