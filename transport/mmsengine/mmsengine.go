// Package mmsengine provides the D-Bus bindings for the Sailfish MMS
// transport engine.
//
// It covers both call directions. Transport hands outbound messages to the
// engine at org.nemomobile.MmsEngine through asynchronous method calls.
// ExportHandler publishes a TransferHandler on the bus under
// org.nemomobile.MmsHandler, where the engine reports inbound
// notifications, transfer progress, completions and reports.
//
// All numeric wire values (record ids, states, flags, timestamps) follow
// the engine's interface definition and must not be reinterpreted.
package mmsengine

import "github.com/godbus/dbus/v5"

// Well-known D-Bus names of the transport engine and of the handler the
// engine calls back into. Both objects live at the root path.
const (
	EngineService   = "org.nemomobile.MmsEngine"
	EngineInterface = "org.nemomobile.MmsEngine"
	EnginePath      = dbus.ObjectPath("/")

	HandlerService   = "org.nemomobile.MmsHandler"
	HandlerInterface = "org.nemomobile.MmsHandler"
	HandlerPath      = dbus.ObjectPath("/")
)

// enginePart is the wire form of one message part, signature (sss).
// Field order is part of the wire contract.
type enginePart struct {
	Path        string
	ContentType string
	ContentID   string
}
