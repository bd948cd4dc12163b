package mmsengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nemomobile/mms"
	"github.com/nemomobile/mms/parts"
)

// Handler bridges incoming org.nemomobile.MmsHandler calls to a
// TransferHandler. One Handler serves for the lifetime of its bus
// connection.
type Handler struct {
	conn    *dbus.Conn
	handler mms.TransferHandler
	logger  *slog.Logger
	timeout time.Duration
}

// ExportHandler publishes h on the bus under the MmsHandler path and
// interface and claims the well-known handler name. It fails when another
// process already owns the name.
func ExportHandler(conn *dbus.Conn, h mms.TransferHandler, opts ...Option) (*Handler, error) {
	o := newOptions(opts...)
	hd := &Handler{
		conn:    conn,
		handler: h,
		logger:  o.logger,
		timeout: o.callTimeout,
	}

	table := map[string]interface{}{
		"messageNotification":        hd.messageNotification,
		"messageReceiveStateChanged": hd.messageReceiveStateChanged,
		"messageReceived":            hd.messageReceived,
		"messageSendStateChanged":    hd.messageSendStateChanged,
		"messageSent":                hd.messageSent,
		"deliveryReport":             hd.deliveryReport,
		"readReport":                 hd.readReport,
	}
	if err := conn.ExportMethodTable(table, HandlerPath, HandlerInterface); err != nil {
		return nil, fmt.Errorf("export handler: %w", err)
	}

	reply, err := conn.RequestName(HandlerService, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request name %s: %w", HandlerService, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("name %s already taken", HandlerService)
	}

	hd.logger.Info("MMS handler exported", "name", HandlerService)
	return hd, nil
}

// callContext builds the context for one incoming engine call. The engine
// provides no cancellation of its own, so each call gets a fresh deadline.
func (h *Handler) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

// messageNotification handles a new inbound push. The reply is the
// correlation token the engine must echo in later callbacks; an empty
// reply tells the engine not to start a download. Failures are not part
// of the wire contract: the push is dropped and the empty reply returned.
func (h *Handler) messageNotification(imsi, from, subject string, expiry uint32, data []byte) (string, *dbus.Error) {
	ctx, cancel := h.callContext()
	defer cancel()

	token, err := h.handler.RegisterNotification(ctx, imsi, from, subject, expiryTime(expiry), data)
	if err != nil {
		h.logger.Error("dropping MMS notification",
			"subscriber_id", imsi, "from", from, "error", err)
		return "", nil
	}
	return token, nil
}

func (h *Handler) messageReceiveStateChanged(recID string, state int32) *dbus.Error {
	ctx, cancel := h.callContext()
	defer cancel()

	if err := h.handler.ReceiveStateChanged(ctx, recID, mms.ReceiveState(state)); err != nil {
		h.logger.Warn("applying MMS receive state failed",
			"token", recID, "state", state, "error", err)
	}
	return nil
}

// messageReceived completes an inbound transfer. The priority and message
// class arguments are accepted for wire compatibility and ignored.
func (h *Handler) messageReceived(recID, mmsID, from string, to, cc []string, subject string, date uint32, _ int32, _ string, readReport bool, wire []enginePart) *dbus.Error {
	ctx, cancel := h.callContext()
	defer cancel()

	sources := make([]parts.Source, 0, len(wire))
	for _, p := range wire {
		sources = append(sources, parts.Source{
			Path:        p.Path,
			ContentType: p.ContentType,
			ContentID:   p.ContentID,
		})
	}

	if err := h.handler.MessageReceived(ctx, recID, mmsID, from, to, cc, subject,
		time.Unix(int64(date), 0), readReport, sources); err != nil {
		h.logger.Error("storing received MMS failed",
			"token", recID, "mms_id", mmsID, "error", err)
	}
	return nil
}

func (h *Handler) messageSendStateChanged(recID string, state int32) *dbus.Error {
	ctx, cancel := h.callContext()
	defer cancel()

	if err := h.handler.SendStateChanged(ctx, recID, mms.SendState(state)); err != nil {
		h.logger.Warn("applying MMS send state failed",
			"token", recID, "state", state, "error", err)
	}
	return nil
}

func (h *Handler) messageSent(recID, mmsID string) *dbus.Error {
	ctx, cancel := h.callContext()
	defer cancel()

	if err := h.handler.MessageSent(ctx, recID, mmsID); err != nil {
		h.logger.Warn("finalizing sent MMS failed",
			"token", recID, "mms_id", mmsID, "error", err)
	}
	return nil
}

func (h *Handler) deliveryReport(imsi, mmsID, recipient string, status int32) *dbus.Error {
	ctx, cancel := h.callContext()
	defer cancel()

	if err := h.handler.DeliveryReport(ctx, imsi, mmsID, recipient, mms.DeliveryState(status)); err != nil {
		h.logger.Warn("applying MMS delivery report failed",
			"mms_id", mmsID, "error", err)
	}
	return nil
}

func (h *Handler) readReport(imsi, mmsID, recipient string, status int32) *dbus.Error {
	ctx, cancel := h.callContext()
	defer cancel()

	if err := h.handler.ReadReport(ctx, imsi, mmsID, recipient, int(status)); err != nil {
		h.logger.Warn("applying MMS read report failed",
			"mms_id", mmsID, "error", err)
	}
	return nil
}

// expiryTime converts the wire expiry, seconds since the Unix epoch, to a
// Time. Zero means the push carried no expiry.
func expiryTime(expiry uint32) time.Time {
	if expiry == 0 {
		return time.Time{}
	}
	return time.Unix(int64(expiry), 0)
}
