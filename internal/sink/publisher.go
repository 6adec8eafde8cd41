package sink

import (
	"github.com/idsaggd/idsaggd/internal/messaging"
	"github.com/idsaggd/idsaggd/pkg/alert"
)

// Publisher re-emits every delivered alert over the messaging adapter's
// egress endpoint D (§4.2, §6.2), including correlation alerts — per the
// Open Question decision in DESIGN.md, the publisher makes no distinction
// by source.
type Publisher struct {
	pub *messaging.Publisher
}

func NewPublisher(pub *messaging.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

func (p *Publisher) Name() string { return "publisher" }

func (p *Publisher) Deliver(a alert.Alert) error {
	data, err := alert.Encode(a)
	if err != nil {
		return err
	}
	p.pub.Send(data)
	return nil
}

func (p *Publisher) Close() error { return p.pub.Close() }
