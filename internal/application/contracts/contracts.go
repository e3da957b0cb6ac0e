package contracts

import "github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/event"

type EventRecorder interface {
	Record(event.Event) error
}

type EventPublisher interface {
	Publish(event.Event) error
}
