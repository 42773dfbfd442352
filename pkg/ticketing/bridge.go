// pkg/ticketing/bridge.go

// Package ticketing turns reconciled findings into a ticket on the host
// ticketing system and back-links the findings to it.
package ticketing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/events"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/metrics"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	DefaultPriority = 3
	DefaultImpact   = 3
	DefaultUrgency  = 3
)

// Request is one "create a ticket for these records" call.
type Request struct {
	Profile    inventory.Profile `json:"-"`
	RecordIDs  []uint            `json:"record_ids" validate:"required,min=1,dive,gt=0"`
	Title      string            `json:"title" validate:"max=255"`
	Comment    string            `json:"comment"`
	Urgency    int               `json:"urgency" validate:"min=0,max=5"`
	CategoryID uint              `json:"category_id"`
	EntityID   uint              `json:"entity_id"`
}

// Bridge creates tickets for findings stored in tables.
type Bridge struct {
	tables   *store.Tables
	host     Host
	validate *validator.Validate
	linkBase string
	metrics  *metrics.Metrics
	events   events.Publisher
	now      func() time.Time
}

type Option func(*Bridge)

// WithLinkBase sets the URL prefix used for links in the ticket body.
func WithLinkBase(base string) Option {
	return func(b *Bridge) { b.linkBase = strings.TrimRight(base, "/") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

func WithPublisher(p events.Publisher) Option {
	return func(b *Bridge) { b.events = p }
}

func NewBridge(tables *store.Tables, host Host, opts ...Option) *Bridge {
	b := &Bridge{
		tables:   tables,
		host:     host,
		validate: validator.New(),
		events:   events.Nop{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// CreateTicket checks that every record sits in the ticket entity, resolves
// the device of the first record, creates one ticket listing every record,
// links the device to it and stores the ticket id on each record. Nothing is
// written unless the host accepted the ticket. If some back-links fail the
// ticket id is returned with a *BacklinkError.
func (b *Bridge) CreateTicket(ctx context.Context, req Request) (uint, error) {
	ctx, span := telemetry.Start(ctx, "ticketing.CreateTicket",
		attribute.String("profile", req.Profile.String()),
		attribute.Int("records", len(req.RecordIDs)),
	)
	defer span.End()
	log := otelzap.Ctx(ctx)

	if !req.Profile.Valid() {
		return 0, cerr.Newf("unknown finding table %q", req.Profile.String())
	}
	if err := b.validate.Struct(req); err != nil {
		return 0, cerr.WithHint(cerr.Wrap(err, "invalid ticket request"), "pass at least one record id and an urgency between 1 and 5")
	}

	records, err := b.loadRecords(ctx, req)
	if err != nil {
		return 0, err
	}
	if req.EntityID, err = recordEntity(req, records); err != nil {
		return 0, err
	}
	device, err := b.loadDevice(ctx, req.Profile.Device, records[0].DeviceID)
	if err != nil {
		return 0, err
	}

	in := TicketInput{
		Name:       b.title(req),
		Content:    b.content(req, device, records),
		Status:     inventory.TicketStatusIncoming,
		Priority:   DefaultPriority,
		Impact:     DefaultImpact,
		Urgency:    req.Urgency,
		CategoryID: req.CategoryID,
		EntityID:   req.EntityID,
	}
	if in.Urgency == 0 {
		in.Urgency = DefaultUrgency
	}
	if in.CategoryID == 0 {
		in.CategoryID = b.connectionCategory(ctx, req.Profile.Device, device.ID)
	}

	ticketID, err := b.host.CreateTicket(ctx, in)
	if err != nil {
		log.Error("Ticket creation failed", zap.Uint("device_id", device.ID), zap.Error(err))
		return 0, fmt.Errorf("create ticket: %w: %w", ErrHost, err)
	}
	log.Info("Ticket created",
		zap.Uint("ticket_id", ticketID),
		zap.String("device_kind", string(req.Profile.Device)),
		zap.Uint("device_id", device.ID),
		zap.Int("records", len(records)))
	if b.metrics != nil {
		b.metrics.TicketsCreated.Inc()
	}

	backlink := b.backlink(ctx, req.Profile, ticketID, device, records)
	b.publish(ctx, req, ticketID, device, backlink)
	if backlink != nil {
		return ticketID, backlink
	}
	return ticketID, nil
}

// loadRecords reads every requested record before anything is written.
func (b *Bridge) loadRecords(ctx context.Context, req Request) ([]inventory.Finding, error) {
	table := b.tables.Findings(req.Profile)
	records := make([]inventory.Finding, 0, len(req.RecordIDs))
	for _, id := range req.RecordIDs {
		f, err := table.Get(ctx, id)
		if err != nil {
			return nil, cerr.Wrapf(err, "load %s record %d", table.Name(), id)
		}
		if f.IsDeleted {
			return nil, cerr.Wrapf(store.ErrNotFound, "load %s record %d", table.Name(), id)
		}
		records = append(records, f)
	}
	return records, nil
}

// recordEntity is the one entity every record belongs to. An unset request
// entity takes the records' entity.
func recordEntity(req Request, records []inventory.Finding) (uint, error) {
	entity := req.EntityID
	if entity == 0 {
		entity = records[0].EntityID
	}
	for _, r := range records {
		if r.EntityID != entity {
			return 0, cerr.WithHint(
				cerr.Wrapf(ErrEntityMismatch, "record %d is in entity %d, ticket entity is %d", r.ID, r.EntityID, entity),
				"raise one ticket per entity")
		}
	}
	return entity, nil
}

func (b *Bridge) loadDevice(ctx context.Context, kind inventory.DeviceKind, id uint) (inventory.Device, error) {
	if id == 0 {
		return inventory.Device{}, ErrNoDevice
	}
	d, err := b.tables.Devices(kind).Get(ctx, id)
	if err != nil {
		return inventory.Device{}, cerr.Wrapf(ErrNoDevice, "load %s %d: %v", kind, id, err)
	}
	if d.IsDeleted {
		return inventory.Device{}, cerr.Wrapf(ErrNoDevice, "%s %d is deleted", kind, id)
	}
	return d, nil
}

// connectionCategory is the ITIL category of the connection whose agent is
// bound to the device, or zero.
func (b *Bridge) connectionCategory(ctx context.Context, kind inventory.DeviceKind, deviceID uint) uint {
	agents, err := b.tables.Agents.Find(ctx, store.Filter{
		"itemtype":   string(kind),
		"item_id":    deviceID,
		"is_deleted": false,
	})
	if err != nil || len(agents) == 0 {
		return 0
	}
	conn, err := b.tables.Connections.Get(ctx, agents[0].ConnectionID)
	if err != nil {
		return 0
	}
	return conn.ITILCategoryID
}

func (b *Bridge) title(req Request) string {
	if t := strings.TrimSpace(req.Title); t != "" {
		return t
	}
	if req.Profile.Finding == inventory.KindAlert {
		return fmt.Sprintf("Wazuh %s Alert", req.Profile.Device)
	}
	return fmt.Sprintf("Wazuh %s Vulnerable", req.Profile.Device)
}

func (b *Bridge) content(req Request, device inventory.Device, records []inventory.Finding) string {
	var sb strings.Builder
	if req.Comment != "" {
		sb.WriteString(req.Comment)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Linked device: %s (%s)\n", device.Name, b.deviceLink(req.Profile.Device, device.ID))
	sb.WriteString("Links:\n")
	for _, r := range records {
		fmt.Fprintf(&sb, "- %s: %s\n", linkName(r), b.recordLink(req.Profile, r.ID))
	}
	return sb.String()
}

func (b *Bridge) deviceLink(kind inventory.DeviceKind, id uint) string {
	return fmt.Sprintf("%s/front/%s.form.php?id=%d", b.linkBase, strings.ToLower(string(kind)), id)
}

func (b *Bridge) recordLink(p inventory.Profile, id uint) string {
	return fmt.Sprintf("%s/api/findings/%s/%d", b.linkBase, p.Table(), id)
}

// linkName is the CVE or group name, with the affected package when known.
func linkName(f inventory.Finding) string {
	if pkg := f.Payload.Text("p_name"); pkg != "" {
		return f.Name + "/" + pkg
	}
	return f.Name
}

// backlink stores ticketID on every record and links the device to the
// ticket on the host. Failures are collected, never fatal.
func (b *Bridge) backlink(ctx context.Context, p inventory.Profile, ticketID uint, device inventory.Device, records []inventory.Finding) *BacklinkError {
	log := otelzap.Ctx(ctx)
	table := b.tables.Findings(p)

	var (
		failed []uint
		errs   *multierror.Error
	)
	for _, r := range records {
		err := table.UpdateColumns(ctx, r.ID, map[string]any{
			"tickets_id": ticketID,
			"date_mod":   b.now(),
		})
		if err != nil {
			log.Warn("Back-link failed", zap.Uint("record_id", r.ID), zap.Uint("ticket_id", ticketID), zap.Error(err))
			failed = append(failed, r.ID)
			errs = multierror.Append(errs, cerr.Wrapf(err, "record %d", r.ID))
		}
	}
	if err := b.host.LinkItem(ctx, ticketID, string(p.Device), device.ID); err != nil {
		log.Warn("Device link failed", zap.Uint("device_id", device.ID), zap.Uint("ticket_id", ticketID), zap.Error(err))
		errs = multierror.Append(errs, err)
	}
	if errs.ErrorOrNil() == nil {
		return nil
	}
	return &BacklinkError{TicketID: ticketID, Failed: failed, Err: errs.ErrorOrNil()}
}

func (b *Bridge) publish(ctx context.Context, req Request, ticketID uint, device inventory.Device, backlink *BacklinkError) {
	fields := map[string]any{
		"ticket_id":   ticketID,
		"table":       req.Profile.Table(),
		"records":     req.RecordIDs,
		"device_kind": string(req.Profile.Device),
		"device_id":   device.ID,
	}
	if backlink != nil {
		fields["backlink_failed"] = backlink.Failed
	}
	e := events.Event{
		ID:       uuid.NewString(),
		Type:     events.TypeTicketCreated,
		EntityID: req.EntityID,
		Time:     b.now(),
		Fields:   fields,
	}
	if err := b.events.Publish(ctx, e); err != nil {
		otelzap.Ctx(ctx).Warn("Event publish failed", zap.String("type", e.Type), zap.Error(err))
	}
}
