// Package policy provides PolicyObserver and SettingsSource implementations.
package policy

import (
	"context"
	"sync"

	"github.com/nemomobile/mms"
)

var (
	_ mms.PolicyObserver = (*Static)(nil)
	_ mms.SettingsSource = (*StaticSettings)(nil)
)

// Static is an in-memory PolicyObserver for testing and fixed-policy
// deployments. State is applied through setters; each setter invokes the
// registered change callbacks so the engine can be nudged without polling.
// Safe for concurrent use.
type Static struct {
	mu         sync.RWMutex
	subscriber string
	roaming    bool
	allowData  bool // data roaming allowed while registered on a foreign network
	askData    bool // ask before each transfer while roaming

	onPolicy     []func()
	onSubscriber []func()
}

// NewStatic creates a Static policy observer for the given subscriber id.
// The initial state is home network, data roaming disallowed.
func NewStatic(subscriberID string) *Static {
	return &Static{subscriber: subscriberID}
}

// SendingProhibited reports whether transfers are prohibited. Transfers are
// prohibited only while roaming, and then unless data roaming is allowed
// without confirmation.
func (s *Static) SendingProhibited(_ context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.roaming {
		return false
	}
	return !s.allowData || s.askData
}

// SubscriberIdentity returns the active subscriber id, or empty when no
// subscriber is present.
func (s *Static) SubscriberIdentity(_ context.Context) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriber
}

// SetRoaming marks the device as registered on a foreign network.
func (s *Static) SetRoaming(roaming bool) {
	s.mu.Lock()
	s.roaming = roaming
	fns := s.onPolicy
	s.mu.Unlock()
	invoke(fns)
}

// SetDataRoamingAllowed allows or disallows data transfers while roaming.
func (s *Static) SetDataRoamingAllowed(allowed bool) {
	s.mu.Lock()
	s.allowData = allowed
	fns := s.onPolicy
	s.mu.Unlock()
	invoke(fns)
}

// SetAskRoaming makes roaming transfers require confirmation. A transfer
// that would ask is treated as prohibited.
func (s *Static) SetAskRoaming(ask bool) {
	s.mu.Lock()
	s.askData = ask
	fns := s.onPolicy
	s.mu.Unlock()
	invoke(fns)
}

// SetSubscriber replaces the active subscriber id. Pass empty to simulate
// SIM removal.
func (s *Static) SetSubscriber(subscriberID string) {
	s.mu.Lock()
	s.subscriber = subscriberID
	fns := s.onSubscriber
	s.mu.Unlock()
	invoke(fns)
}

// OnPolicyChange registers a callback invoked after every roaming policy
// mutation. Callbacks run outside the lock; they commonly re-read the
// policy state.
func (s *Static) OnPolicyChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPolicy = append(s.onPolicy, fn)
}

// OnSubscriberChange registers a callback invoked after every subscriber
// mutation.
func (s *Static) OnSubscriberChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSubscriber = append(s.onSubscriber, fn)
}

func invoke(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

// Settings are the per-subscriber preferences served by StaticSettings.
type Settings struct {
	// SendFlags are the option bits attached to every outbound message.
	SendFlags mms.SendFlags
	// AutomaticDownload enables unattended downloads. Leave nil to report
	// no configured preference, which downgrades inbound notifications to
	// manual download.
	AutomaticDownload *bool
}

// StaticSettings is a map-based SettingsSource keyed by subscriber id.
// Safe for concurrent use.
type StaticSettings struct {
	mu      sync.RWMutex
	entries map[string]Settings
}

// NewStaticSettings creates a StaticSettings from a map of subscriber id to
// Settings. The map is copied to prevent external mutation.
func NewStaticSettings(entries map[string]Settings) *StaticSettings {
	m := make(map[string]Settings, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return &StaticSettings{entries: m}
}

// AutomaticDownload returns the subscriber's automatic-download preference.
// ok is false for unknown subscribers and for subscribers without a
// configured preference.
func (s *StaticSettings) AutomaticDownload(_ context.Context, subscriberID string) (enabled, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, found := s.entries[subscriberID]
	if !found || entry.AutomaticDownload == nil {
		return false, false
	}
	return *entry.AutomaticDownload, true
}

// SendFlags returns the subscriber's send option bits. Unknown subscribers
// get zero flags.
func (s *StaticSettings) SendFlags(_ context.Context, subscriberID string) mms.SendFlags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[subscriberID].SendFlags
}

// Set replaces the settings for one subscriber.
func (s *StaticSettings) Set(subscriberID string, settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[subscriberID] = settings
}
