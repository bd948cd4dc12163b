package mmsengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/nemomobile/mms"
)

var _ mms.Transport = (*Transport)(nil)

// Transport dispatches outbound messages to mms-engine over D-Bus.
type Transport struct {
	conn   *dbus.Conn
	obj    dbus.BusObject
	logger *slog.Logger
}

// New creates a Transport talking to mms-engine on the given bus
// connection, normally the system bus. The caller owns the connection.
func New(conn *dbus.Conn, opts ...Option) *Transport {
	o := newOptions(opts...)
	return &Transport{
		conn:   conn,
		obj:    conn.Object(EngineService, EnginePath),
		logger: o.logger,
	}
}

// Send issues an asynchronous sendMessage call. The returned channel
// delivers the engine's acknowledgement, the subscriber id the engine
// assigned to the transfer, or the call error. The pending call is bound
// to the connection, not to ctx: transfers keep going when the caller
// moves on, and a closed connection fails them.
func (t *Transport) Send(_ context.Context, req mms.SendRequest) <-chan mms.SendResult {
	wire := make([]enginePart, 0, len(req.Parts))
	for _, p := range req.Parts {
		wire = append(wire, enginePart{
			Path:        p.Path,
			ContentType: p.ContentType,
			ContentID:   p.ContentID,
		})
	}

	call := t.obj.Go(EngineInterface+".sendMessage", 0, nil,
		int32(req.RecordID), req.SubscriberID, req.To, req.Cc, req.Bcc,
		req.Subject, uint32(req.Flags), wire)

	out := make(chan mms.SendResult, 1)
	go func() {
		defer close(out)

		<-call.Done
		if call.Err != nil {
			out <- mms.SendResult{Err: fmt.Errorf("engine sendMessage: %w", call.Err)}
			return
		}
		var imsi string
		if err := call.Store(&imsi); err != nil {
			out <- mms.SendResult{Err: fmt.Errorf("engine sendMessage reply: %w", err)}
			return
		}
		t.logger.Debug("engine accepted MMS send",
			"record_id", req.RecordID, "subscriber_id", imsi)
		out <- mms.SendResult{EngineID: imsi}
	}()
	return out
}

// Cancel issues a fire-and-forget cancel call for the given record's
// transfer. The engine sends no confirmation.
func (t *Transport) Cancel(_ context.Context, recordID int64) error {
	call := t.obj.Go(EngineInterface+".cancel", dbus.FlagNoReplyExpected, nil,
		int32(recordID))
	if call.Err != nil {
		return fmt.Errorf("engine cancel: %w", call.Err)
	}
	return nil
}
