package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const DefaultPrefix = "amazonlists"

// Publisher - часть *nats.Conn, которая нужна отправителю.
type Publisher interface {
	Publish(subject string, data []byte) error
}

func ConnectNATS(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// NATS публикует JSON-события в <prefix>.collections и <prefix>.item.
type NATS struct {
	pub    Publisher
	prefix string
	log    *zap.Logger
}

func NewNATS(pub Publisher, prefix string, log *zap.Logger) *NATS {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NATS{pub: pub, prefix: prefix, log: log}
}

func (n *NATS) Subject(t Type) string {
	if t == CollectionsUpdated {
		return n.prefix + ".collections"
	}
	return n.prefix + ".item"
}

func (n *NATS) Emit(_ context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		n.log.Warn("event encode failed", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	if err := n.pub.Publish(n.Subject(ev.Type), data); err != nil {
		n.log.Warn("event publish failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
