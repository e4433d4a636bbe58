// Package transport implements the shared UDP datagram socket (spec §4.7):
// a keep-alive writer that maintains the NAT mapping, and a receive loop
// that demultiplexes inbound audio datagrams to channels by channel_id.
//
// The teacher's transport.go (rustyguts-bken/client) solves an adjacent
// problem over QUIC/WebTransport with binary-header datagrams and a rich
// control-message protocol; EchoStream's wire format is plain JSON over raw
// UDP (spec §4.7, §6) and has no control channel of its own (that is the
// session/control surface's job), but the atomic-counter bookkeeping and the
// "resolve sender, update per-channel counters, never abort the loop on a
// malformed packet" loop shape are carried over directly.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"echostream/internal/codec"
	"echostream/internal/core"
	"echostream/internal/crypto"
)

// KeepAliveInterval is how often the keep-alive datagram is sent (spec §4.7).
const KeepAliveInterval = 10 * time.Second

// RecvTimeout bounds each recvfrom call so shutdown is checked promptly
// (spec §5 cancellation rules).
const RecvTimeout = 100 * time.Millisecond

// MaxDatagramBytes is the largest JSON datagram accepted (spec §6).
const MaxDatagramBytes = 8192

// PlaybackGain is the fixed gain applied when converting decoded int16 PCM
// back to float on the receive path (spec §4.7 step 5).
const PlaybackGain = 20

// datagram is the wire envelope for both keep-alive and audio packets
// (spec §6).
type datagram struct {
	ChannelID string `json:"channel_id,omitempty"`
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"`
}

// Channel is the subset of channel state the receive loop touches: decoding,
// decrypting, and enqueueing into the jitter buffer.
type Channel interface {
	ID() string
	SessionKey() [32]byte
	Codec() *codec.Codec
	PushFrame(core.Frame)
	Stats() *core.ChannelStats
}

// ChannelResolver finds an active channel by its wire identifier.
type ChannelResolver interface {
	ResolveChannel(channelID string) (Channel, bool)
}

// Transport owns the process-wide UDP socket (spec §3: "shared by
// transmitter paths and the receive loop").
type Transport struct {
	conn   *net.UDPConn
	logger *log.Logger

	sendMu sync.Mutex // serializes sendto from multiple capture workers + keep-alive

	keepAlivesSent atomic.Uint64
	packetsRecv    atomic.Uint64
	unknownChannel atomic.Uint64

	warnedZeroKey sync.Map // channelID -> struct{}{}
}

// Dial opens the shared UDP socket to remoteAddr ("host:port"), bound to an
// ephemeral local port (spec §4.7).
func Dial(remoteAddr string, logger *log.Logger) (*Transport, error) {
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", remoteAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %q: %w", remoteAddr, err)
	}
	t := &Transport{conn: conn, logger: logger}
	if err := t.sendKeepAlive(); err != nil {
		logger.Warn("transport: initial keep-alive failed", "err", err)
	}
	return t, nil
}

// Close releases the socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// SendAudio base64-encodes an encrypted payload and writes it as a JSON
// audio datagram (spec §4.5 step, §6). Safe for concurrent callers.
func (t *Transport) SendAudio(channelID string, encrypted []byte) error {
	dg := datagram{
		ChannelID: channelID,
		Type:      "audio",
		Data:      base64.StdEncoding.EncodeToString(encrypted),
	}
	return t.send(dg)
}

func (t *Transport) sendKeepAlive() error {
	err := t.send(datagram{Type: "KEEP_ALIVE"})
	if err == nil {
		t.keepAlivesSent.Add(1)
	}
	return err
}

func (t *Transport) send(dg datagram) error {
	data, err := json.Marshal(dg)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	_, err = t.conn.Write(data)
	return err
}

// RunKeepAlive sends a keep-alive datagram every KeepAliveInterval until ctx
// is cancelled (spec §5: "one UDP keep-alive worker").
func (t *Transport) RunKeepAlive(ctx context.Context) {
	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.sendKeepAlive(); err != nil {
				t.logger.Warn("transport: keep-alive send failed", "err", err)
			}
		}
	}
}

// RunReceive reads inbound datagrams, resolving and dispatching audio
// packets to their channel, until ctx is cancelled (spec §4.7, §5: "one UDP
// receive worker").
func (t *Transport) RunReceive(ctx context.Context, resolver ChannelResolver) {
	buf := make([]byte, MaxDatagramBytes)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(RecvTimeout))
		n, err := t.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}
		t.packetsRecv.Add(1)
		t.handlePacket(buf[:n], resolver)
	}
}

func (t *Transport) handlePacket(raw []byte, resolver ChannelResolver) {
	var dg datagram
	if err := json.Unmarshal(raw, &dg); err != nil {
		return
	}
	if dg.Type != "audio" {
		return
	}
	ch, ok := resolver.ResolveChannel(dg.ChannelID)
	if !ok {
		t.unknownChannel.Add(1)
		return
	}

	blob, err := base64.StdEncoding.DecodeString(dg.Data)
	if err != nil {
		return
	}

	key := ch.SessionKey()
	if crypto.IsZeroKey(key) {
		if _, loaded := t.warnedZeroKey.LoadOrStore(dg.ChannelID, struct{}{}); !loaded {
			t.logger.Warn("transport: zero session key, dropping audio", "channel_id", dg.ChannelID)
		}
		return
	}

	plaintext, err := crypto.Decrypt(blob, key[:])
	if err != nil {
		stats := ch.Stats()
		n := stats.IncDecryptFailures()
		if n == 1 || n%50 == 0 {
			t.logger.Warn("transport: decrypt failed", "channel_id", dg.ChannelID, "count", n, "err", err)
		}
		return
	}

	samples, err := ch.Codec().Decode(plaintext, PlaybackGain)
	if err != nil {
		return
	}

	var frame core.Frame
	frame.SampleCount = copy(frame.Samples[:], samples)
	frame.Valid = true
	ch.PushFrame(frame)
	ch.Stats().IncFramesReceived()
}
