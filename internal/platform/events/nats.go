package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher sends events to subjects of the form
// <prefix>.<facility>.<event type>.
type NATSPublisher struct {
	nc     *nats.Conn
	pub    msgPublisher
	prefix string
}

// NewNATSPublisher connects to url. The connection is owned by the publisher.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("triage-server"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, pub: nc, prefix: prefix}, nil
}

// Subject returns the NATS subject for an event.
func (p *NATSPublisher) Subject(event Event) string {
	facility := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(event.FacilityID)
	if facility == "" {
		facility = "_"
	}
	return p.prefix + "." + facility + "." + event.Type
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(p.Subject(event))
	msg.Data = body
	if event.ID != "" {
		msg.Header.Set(nats.MsgIdHdr, event.ID)
	}
	if err := p.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
