package surfacebus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSBus broadcasts between surfaces running as separate processes on
// the venue machine, over core NATS. Core subjects carry no persistence,
// matching the bus contract: no listener, no delivery.
type NATSBus struct {
	nc     *nats.Conn
	origin string
}

// ConnectNATS joins the venue bus as one surface. An empty origin gets
// the connection's inbox-unique identity.
func ConnectNATS(url, origin string) (*NATSBus, error) {
	opts := []nats.Option{
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("surface bus disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("surface bus reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("surface bus error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect surface bus: %w", err)
	}
	if origin == "" {
		origin = nc.NewRespInbox()
	}
	return &NATSBus{nc: nc, origin: origin}, nil
}

func (b *NATSBus) Publish(topic string, data []byte) error {
	payload, err := json.Marshal(Message{Origin: b.origin, Topic: topic, Data: data})
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}
	return b.nc.Publish(topic, payload)
}

func (b *NATSBus) Subscribe(topic string, handler Handler) (func(), error) {
	sub, err := b.nc.Subscribe(topic, func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Debug().Err(err).Str("topic", topic).Msg("dropping malformed bus message")
			return
		}
		if msg.Origin == b.origin {
			return // publisher never hears itself
		}
		handler(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Str("topic", topic).Msg("unsubscribe failed")
		}
	}, nil
}

func (b *NATSBus) Close() error {
	b.nc.Close()
	return nil
}
