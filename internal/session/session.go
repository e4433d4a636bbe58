// Package session implements the session/control surface (spec §4.9): it
// consumes endpoint/session configuration from the signalling collaborator,
// activates the UDP transport, installs per-channel session keys, and
// drives the connect/transmit_started/transmit_ended event stream. It also
// holds the per-channel runtime state (codec, jitter buffer, PTT flag,
// statistics) that the capture, playback, PTT, and transport workers all
// operate on — the closest teacher analog is App's ownership of the single
// AudioEngine + Transport pair (rustyguts-bken/client/app.go), generalized
// here to MaxChannels independent channels instead of one shared engine.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"echostream/internal/codec"
	"echostream/internal/core"
	"echostream/internal/jitter"
	"echostream/internal/transport"
)

// Channel holds one radio channel's runtime state for the process lifetime
// (spec §3 "Channel").
type Channel struct {
	id     string
	codec  *codec.Codec
	jitter *jitter.Buffer
	stats  core.ChannelStats

	keyMu sync.RWMutex
	key   [32]byte

	pttActive atomic.Bool
	active    atomic.Bool

	broadcastSource   bool
	passthroughTarget bool
	toneDetect        bool
	toneConfig        core.ToneDetectConfig
}

// NewChannel constructs a Channel from static configuration with a fresh
// codec and jitter buffer.
func NewChannel(cfg core.ChannelConfig) (*Channel, error) {
	cc, err := codec.New()
	if err != nil {
		return nil, err
	}
	ch := &Channel{
		id:                cfg.ChannelID,
		codec:             cc,
		jitter:            jitter.New(),
		broadcastSource:   cfg.BroadcastSource,
		passthroughTarget: cfg.PassthroughTarget,
		toneDetect:        cfg.ToneDetect,
		toneConfig:        cfg.ToneConfig,
	}
	ch.key = cfg.SessionKey
	return ch, nil
}

// ID implements transport.Channel and device capture/playback identity.
func (c *Channel) ID() string { return c.id }

// SessionKey implements transport.Channel.
func (c *Channel) SessionKey() [32]byte {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return c.key
}

// SetSessionKey installs a session key, e.g. on signalling-driven setup.
func (c *Channel) SetSessionKey(key [32]byte) {
	c.keyMu.Lock()
	c.key = key
	c.keyMu.Unlock()
}

// Codec implements transport.Channel.
func (c *Channel) Codec() *codec.Codec { return c.codec }

// PushFrame implements transport.Channel.
func (c *Channel) PushFrame(f core.Frame) { c.jitter.Push(f) }

// Stats implements transport.Channel.
func (c *Channel) Stats() *core.ChannelStats { return &c.stats }

// Jitter exposes the playback-side jitter buffer.
func (c *Channel) Jitter() *jitter.Buffer { return c.jitter }

// Active implements device.PTTState: reports whether PTT is currently
// asserted for this channel.
func (c *Channel) Active() bool { return c.pttActive.Load() }

// SetPTTActive updates the PTT flag (spec §4.4).
func (c *Channel) SetPTTActive(active bool) { c.pttActive.Store(active) }

// SetSessionActive marks whether this channel currently has an established
// relay session (spec §3 "active flag").
func (c *Channel) SetSessionActive(active bool) { c.active.Store(active) }

// SessionActive reports the session-established flag.
func (c *Channel) SessionActive() bool { return c.active.Load() }

// BroadcastSource reports the static BroadcastSource flag.
func (c *Channel) BroadcastSource() bool { return c.broadcastSource }

// PassthroughTarget reports the static PassthroughTarget flag.
func (c *Channel) PassthroughTarget() bool { return c.passthroughTarget }

// ToneDetect reports whether this channel owns tone detection.
func (c *Channel) ToneDetect() bool { return c.toneDetect }

// ToneConfig returns this channel's tone-detection configuration.
func (c *Channel) ToneConfig() core.ToneDetectConfig { return c.toneConfig }

var _ transport.Channel = (*Channel)(nil)

// PassthroughState is the process-wide passthrough flag the tone detector
// sets and the designated passthrough-target channel's playback consults
// (spec §5: "the passthrough_active flag is consulted lock-free-friendly by
// playback").
type PassthroughState struct {
	active atomic.Bool
}

// Activate implements tonedetect.PassthroughController. The tone frequencies
// are not stored.
func (p *PassthroughState) Activate(_, _ float64) {
	p.active.Store(true)
}

// Deactivate implements tonedetect.PassthroughController.
func (p *PassthroughState) Deactivate() { p.active.Store(false) }

// Active implements tonedetect.PassthroughController and device.PassthroughState.
func (p *PassthroughState) Active() bool { return p.active.Load() }

// Manager owns every configured channel and the signalling-driven setup
// sequence (spec §4.9).
type Manager struct {
	deviceID string
	identity core.SignallingChannel
	logger   *log.Logger

	mu        sync.RWMutex
	channels  []*Channel
	byID      map[string]*Channel
	transport *transport.Transport
	sessionID string
}

// NewManager builds a Manager with one Channel per configured channel, in
// configuration order (which is also PTT-line order, spec §4.4).
func NewManager(configs []core.ChannelConfig, signalling core.SignallingChannel, deviceID string, logger *log.Logger) (*Manager, error) {
	m := &Manager{
		deviceID: deviceID,
		identity: signalling,
		logger:   logger,
		byID:     make(map[string]*Channel, len(configs)),
	}
	for _, cfg := range configs {
		ch, err := NewChannel(cfg)
		if err != nil {
			return nil, err
		}
		m.channels = append(m.channels, ch)
		m.byID[ch.id] = ch
	}
	return m, nil
}

// Channels returns the channels in PTT-line order.
func (m *Manager) Channels() []*Channel { return m.channels }

// ResolveChannel implements transport.ChannelResolver.
func (m *Manager) ResolveChannel(channelID string) (transport.Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.byID[channelID]
	if !ok {
		return nil, false
	}
	return ch, true
}

// SendAudio implements device.Sender by delegating to the active transport.
// Before signalling has delivered endpoint configuration, this is a no-op —
// PTT gating already prevents capture from running before setup completes.
func (m *Manager) SendAudio(channelID string, encrypted []byte) error {
	m.mu.RLock()
	t := m.transport
	m.mu.RUnlock()
	if t == nil {
		return nil
	}
	return t.SendAudio(channelID, encrypted)
}

// SetPTTActive implements ptt.ControlSurface for line index i.
func (m *Manager) SetPTTActive(channelIndex int, active bool) {
	ch := m.channelAt(channelIndex)
	if ch == nil {
		return
	}
	ch.SetPTTActive(active)
}

// EmitTransmitStarted implements ptt.ControlSurface.
func (m *Manager) EmitTransmitStarted(channelIndex int) {
	ch := m.channelAt(channelIndex)
	if ch == nil {
		return
	}
	m.identity.Emit("transmit_started", ch.ID())
}

// EmitTransmitEnded implements ptt.ControlSurface.
func (m *Manager) EmitTransmitEnded(channelIndex int) {
	ch := m.channelAt(channelIndex)
	if ch == nil {
		return
	}
	m.identity.Emit("transmit_ended", ch.ID())
}

// KeepAlive implements ptt.ControlSurface; the PTT detector's 1 s hook has
// no direct EchoStream analog beyond the UDP keep-alive worker already
// running on its own 10 s timer (spec §4.4 names the hook, but the only
// keep-alive traffic the spec defines is the UDP one in §4.7), so this is a
// deliberate no-op reserved for a future heartbeat.
func (m *Manager) KeepAlive() {}

func (m *Manager) channelAt(index int) *Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= len(m.channels) {
		return nil
	}
	return m.channels[index]
}

// ActivateTransport installs a connected transport, assigns a fresh device
// session identifier for log correlation across this connect cycle, and
// marks every channel whose PTT was already active as newly session-active,
// emitting transmit_started immediately for each (spec §4.9).
func (m *Manager) ActivateTransport(t *transport.Transport) {
	sessionID := uuid.NewString()
	m.mu.Lock()
	m.transport = t
	m.sessionID = sessionID
	m.mu.Unlock()
	m.logger.Info("session: activated", "device_id", m.deviceID, "session_id", sessionID)

	for i, ch := range m.channels {
		ch.SetSessionActive(true)
		if ch.Active() {
			m.EmitTransmitStarted(i)
		}
	}
}

// SessionID returns the identifier assigned by the most recent
// ActivateTransport call, or "" before the first session activates.
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// InstallSessionKey sets the pre-shared key on every channel
// (spec §4.9: "installs the pre-shared session key ... into each active
// channel"), replacing the per-channel keys loaded by internal/config with
// one shared key, like original_source/websocket.py's hardcoded single key.
// The signalling configuration message carries no key, and cmd/echostream
// does not call this method.
func (m *Manager) InstallSessionKey(key [32]byte) {
	for _, ch := range m.channels {
		ch.SetSessionKey(key)
	}
}

// EmitConnect sends a connect event for every channel (spec §4.9).
func (m *Manager) EmitConnect() {
	for _, ch := range m.channels {
		m.identity.Emit("connect", ch.ID())
	}
}
