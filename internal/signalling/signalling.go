// Package signalling implements the session/control surface's external
// collaborator: a websocket connection that delivers UDP endpoint/session
// configuration and carries outbound connect/transmit events (spec §4.9,
// §6). Grounded on original_source/websocket.py's message shapes, using
// github.com/gorilla/websocket — the teacher's own direct dependency for
// exactly this job, just pointed at EchoStream's relay instead of a
// chat/voice room server.
package signalling

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"echostream/internal/core"
)

// configMessage is the inbound message that activates the UDP transport
// (spec §4.9, original_source/websocket.py's parse_websocket_config).
type configMessage struct {
	UDPHost     string `json:"udp_host"`
	UDPPort     int    `json:"udp_port"`
	WebsocketID int    `json:"websocket_id"`
}

// eventEnvelope wraps an outbound connect/transmit_started/transmit_ended
// event under its type as the sole JSON key, matching
// original_source/websocket.py's `{"connect": {...}}` shape.
type eventEnvelope map[string]eventBody

type eventBody struct {
	AffiliationID string `json:"affiliation_id"`
	UserName      string `json:"user_name"`
	AgencyName    string `json:"agency_name"`
	ChannelID     string `json:"channel_id"`
	Time          int64  `json:"time"`
}

// Identity names the agent in outbound events (spec §4.9 field values).
type Identity struct {
	AffiliationID string
	UserName      string
	AgencyName    string
}

// Channel wraps one gorilla/websocket connection. It holds the concrete
// *websocket.Conn, so its tests run against a real websocket server.
type Channel struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	identity Identity
	logger   *log.Logger
	events   chan core.SessionConfig
}

// Dial connects to the signalling URL (e.g. "wss://host/ws/") and starts
// the inbound read loop.
func Dial(url string, identity Identity, logger *log.Logger) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("signalling: dial %q: %w", url, err)
	}
	c := &Channel{
		conn:     conn,
		identity: identity,
		logger:   logger,
		events:   make(chan core.SessionConfig, 1),
	}
	go c.readLoop()
	return c, nil
}

// Events implements core.SignallingChannel.
func (c *Channel) Events() <-chan core.SessionConfig { return c.events }

// Emit implements core.SignallingChannel (spec §4.9: connect/transmit_started/
// transmit_ended events).
func (c *Channel) Emit(eventType string, channelID string) {
	env := eventEnvelope{
		eventType: {
			AffiliationID: c.identity.AffiliationID,
			UserName:      c.identity.UserName,
			AgencyName:    c.identity.AgencyName,
			ChannelID:     channelID,
			Time:          time.Now().Unix(),
		},
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Warn("signalling: marshal event failed", "type", eventType, "err", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("signalling: send event failed", "type", eventType, "err", err)
	}
}

// Close implements core.SignallingChannel.
func (c *Channel) Close() error {
	close(c.events)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// readLoop pumps inbound messages, recognizing the UDP configuration
// message and forwarding it on Events (spec §4.9). Any other message shape
// is ignored — EchoStream has no chat/roster surface to route it to.
func (c *Channel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Warn("signalling: read loop exiting", "err", err)
			return
		}
		var cfg configMessage
		if err := json.Unmarshal(data, &cfg); err != nil {
			continue
		}
		if cfg.UDPHost == "" || cfg.UDPPort == 0 {
			continue
		}
		select {
		case c.events <- core.SessionConfig{UDPHost: cfg.UDPHost, UDPPort: cfg.UDPPort, WebsocketID: cfg.WebsocketID}:
		default:
			c.logger.Warn("signalling: dropped session config, channel full")
		}
	}
}

var _ core.SignallingChannel = (*Channel)(nil)
