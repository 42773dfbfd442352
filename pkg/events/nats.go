// pkg/events/nats.go

package events

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	// DefaultSubjectPrefix is prepended to the event type.
	DefaultSubjectPrefix = "delphi"

	ConnectTimeout       = 10 * time.Second
	ReconnectWait        = 5 * time.Second
	MaxReconnectAttempts = 10
	publishTimeout       = 5 * time.Second
)

// NATSPublisher publishes events as JSON on <prefix>.<type>. Reconnection
// is left to the nats client.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to url, failing fast when it is unreachable.
func NewNATSPublisher(ctx context.Context, url, prefix string) (*NATSPublisher, error) {
	log := otelzap.Ctx(ctx)
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	conn, err := nats.Connect(url,
		nats.Name("delphi-sync"),
		nats.Timeout(ConnectTimeout),
		nats.ReconnectWait(ReconnectWait),
		nats.MaxReconnects(MaxReconnectAttempts),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, cerr.Wrapf(err, "failed to connect to NATS at %s", url)
	}
	log.Info("NATS publisher initialized", zap.String("url", url), zap.String("prefix", prefix))
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Subject is the subject an event of type t is published on.
func (p *NATSPublisher) Subject(t string) string {
	return strings.TrimSuffix(p.prefix, ".") + "." + t
}

// Publish sends e, filling its id and time when unset.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return cerr.Wrap(err, "failed to marshal event")
	}

	msg := nats.NewMsg(p.Subject(e.Type))
	msg.Data = data
	msg.Header.Set("x-event-id", e.ID)
	msg.Header.Set("x-event-type", e.Type)
	msg.Header.Set("x-entity-id", strconv.FormatUint(uint64(e.EntityID), 10))

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	select {
	case <-ctx.Done():
		return cerr.Wrap(ctx.Err(), "publish timeout")
	default:
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return cerr.Wrapf(err, "failed to publish %s", e.Type)
	}
	otelzap.Ctx(ctx).Debug("Event published", zap.String("subject", msg.Subject), zap.String("event_id", e.ID))
	return nil
}

// IsReady reports whether the connection is up.
func (p *NATSPublisher) IsReady() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close flushes and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	if err != nil {
		p.conn.Close()
	}
	return err
}
