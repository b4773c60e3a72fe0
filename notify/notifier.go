package notify

import (
	"context"
	"log"
	"sync"
	"time"
)

// Notifier delivers one message to one recipient. Recipient ids are opaque
// to callers: a chat id for Telegram, an address for e-mail.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, message, recipient string) error
}

type Route struct {
	Notifier  Notifier
	Recipient string
}

// Dispatcher fans a message out to every route in the background. Delivery
// errors are logged and dropped.
type Dispatcher struct {
	routes  []Route
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(timeout time.Duration, routes ...Route) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{routes: routes, timeout: timeout}
}

func (d *Dispatcher) Add(route Route) {
	d.routes = append(d.routes, route)
}

func (d *Dispatcher) Len() int {
	return len(d.routes)
}

func (d *Dispatcher) Alert(ctx context.Context, message string) {
	if len(d.routes) == 0 {
		log.Printf("No notification routes configured, dropping alert")
		return
	}

	for _, route := range d.routes {
		d.wg.Add(1)
		go func(r Route) {
			defer d.wg.Done()

			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
			defer cancel()

			if err := r.Notifier.Notify(sendCtx, message, r.Recipient); err != nil {
				log.Printf("Notification via %s failed: %v", r.Notifier.Name(), err)
			}
		}(route)
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
