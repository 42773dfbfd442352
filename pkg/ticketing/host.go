// pkg/ticketing/host.go

package ticketing

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	cerr "github.com/cockroachdb/errors"
)

// TicketInput is the field set sent to the ticketing host.
type TicketInput struct {
	Name       string `json:"name"`
	Content    string `json:"content"`
	Status     int    `json:"status"`
	Priority   int    `json:"priority"`
	Impact     int    `json:"impact"`
	Urgency    int    `json:"urgency"`
	CategoryID uint   `json:"itilcategories_id"`
	EntityID   uint   `json:"entities_id"`
}

// Host is the external ticketing system.
type Host interface {
	CreateTicket(ctx context.Context, in TicketInput) (uint, error)
	LinkItem(ctx context.Context, ticketID uint, itemType string, itemID uint) error
}

// LocalHost keeps tickets in the sync store. It is used when no external
// ticketing system is configured.
type LocalHost struct {
	tickets store.Table[inventory.Ticket]
	items   store.Table[inventory.ItemTicket]
	now     func() time.Time
}

func NewLocalHost(tables *store.Tables) *LocalHost {
	return &LocalHost{
		tickets: tables.Tickets,
		items:   tables.ItemTickets,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (h *LocalHost) CreateTicket(ctx context.Context, in TicketInput) (uint, error) {
	t := inventory.Ticket{
		Name:         in.Name,
		Content:      in.Content,
		Status:       in.Status,
		Priority:     in.Priority,
		Impact:       in.Impact,
		Urgency:      in.Urgency,
		CategoryID:   in.CategoryID,
		EntityID:     in.EntityID,
		DateCreation: h.now(),
	}
	if err := h.tickets.Insert(ctx, &t); err != nil {
		return 0, cerr.Wrap(err, "insert ticket")
	}
	return t.ID, nil
}

func (h *LocalHost) LinkItem(ctx context.Context, ticketID uint, itemType string, itemID uint) error {
	link := inventory.ItemTicket{TicketID: ticketID, ItemType: itemType, ItemID: itemID}
	if err := h.items.Insert(ctx, &link); err != nil {
		return cerr.Wrapf(err, "link %s %d to ticket %d", itemType, itemID, ticketID)
	}
	return nil
}
