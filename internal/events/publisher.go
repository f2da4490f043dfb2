// Package events carries domain notifications out of the service: a NATS
// publisher plus the outbox dispatcher that drains events committed
// alongside state changes. Delivery is at-least-once; consumers are
// expected to be idempotent.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the transport boundary; NATS in production, a recorder in
// tests.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close()
}

type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(url string, log *zap.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("fleetd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	return p.nc.Publish(subject, payload)
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}
