// Package noop provides a Transport that accepts every request without an
// external transport engine. Dispatches are acknowledged immediately and
// cancels are swallowed. Useful in tests and for running without mms-engine;
// dispatched messages stay in the sending state until something reports
// their outcome.
package noop

import (
	"context"

	"github.com/nemomobile/mms"
)

var _ mms.Transport = (*Transport)(nil)

// Transport accepts every send and cancel without side effects.
type Transport struct{}

// New creates a noop Transport.
func New() *Transport {
	return &Transport{}
}

// Send acknowledges the request immediately. The result echoes the requested
// subscriber id, the way a real engine confirms the SIM it used.
func (t *Transport) Send(_ context.Context, req mms.SendRequest) <-chan mms.SendResult {
	ch := make(chan mms.SendResult, 1)
	ch <- mms.SendResult{EngineID: req.SubscriberID}
	close(ch)
	return ch
}

// Cancel does nothing.
func (t *Transport) Cancel(context.Context, int64) error {
	return nil
}
