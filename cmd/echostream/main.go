// Command echostream is the device-resident PTT-to-cloud-voice-relay agent
// (spec §1, §4.9 composition root). Flag parsing follows
// doismellburning-samoyed/src/appserver.go's use of spf13/pflag; structured
// logging follows the rest of the pack's preference for a leveled logger
// (charmbracelet/log) over the stdlib log package used by the teacher's own
// server/main.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
	"github.com/spf13/pflag"

	"echostream/internal/broadcast"
	echoconfig "echostream/internal/config"
	"echostream/internal/core"
	"echostream/internal/device"
	"echostream/internal/ptt"
	"echostream/internal/recording"
	"echostream/internal/session"
	"echostream/internal/signalling"
	"echostream/internal/telemetry"
	"echostream/internal/tonedetect"
	"echostream/internal/transport"
)

func main() {
	configPath := pflag.String("config", echoconfig.Path, "path to the device configuration document")
	gpioChip := pflag.String("gpio-chip", "gpiochip0", "gpiochar device for PTT lines")
	signallingURL := pflag.String("signalling-url", "", "websocket URL of the signalling collaborator")
	affiliationID := pflag.String("affiliation-id", "", "affiliation id reported in signalling events")
	userName := pflag.String("user-name", "", "user name reported in signalling events")
	agencyName := pflag.String("agency-name", "", "agency name reported in signalling events")
	mqttBroker := pflag.String("mqtt-broker", "", "MQTT broker URL for tone-detection telemetry (empty to disable)")
	s3Bucket := pflag.String("recordings-bucket", "", "S3 bucket for recorded clips (empty to disable upload)")
	inputDevice := pflag.Int("input-device", -1, "PortAudio input device index (-1 for system default)")
	outputDevice := pflag.Int("output-device", -1, "PortAudio output device index (-1 for system default)")
	pflag.Parse()

	logger := log.New(os.Stderr)
	logger.SetLevel(log.InfoLevel)

	if err := run(runOptions{
		configPath:    *configPath,
		gpioChip:      *gpioChip,
		signallingURL: *signallingURL,
		identity: signalling.Identity{
			AffiliationID: *affiliationID,
			UserName:      *userName,
			AgencyName:    *agencyName,
		},
		mqttBroker:   *mqttBroker,
		s3Bucket:     *s3Bucket,
		inputDevice:  *inputDevice,
		outputDevice: *outputDevice,
	}, logger); err != nil {
		logger.Fatal("echostream exited", "err", err)
	}
}

type runOptions struct {
	configPath    string
	gpioChip      string
	signallingURL string
	identity      signalling.Identity
	mqttBroker    string
	s3Bucket      string
	inputDevice   int
	outputDevice  int
}

func run(opts runOptions, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	sig, err := signalling.Dial(opts.signallingURL, opts.identity, logger)
	if err != nil {
		return fmt.Errorf("dial signalling: %w", err)
	}
	defer sig.Close()

	mgr, err := session.NewManager(cfg.Channels(), sig, cfg.DeviceID(), logger)
	if err != nil {
		return fmt.Errorf("build session manager: %w", err)
	}

	var publisher core.TelemetryPublisher
	if opts.mqttBroker != "" {
		p, err := telemetry.Dial(opts.mqttBroker, cfg.DeviceID(), nil)
		if err != nil {
			return fmt.Errorf("dial telemetry: %w", err)
		}
		defer p.Close()
		publisher = p
	}

	var uploader core.ClipUploader
	if opts.s3Bucket != "" {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		uploader = recording.NewUploader(s3.NewFromConfig(awsCfg), opts.s3Bucket)
	}

	passthrough := &session.PassthroughState{}
	bb := broadcast.New()

	waitEndpoint(ctx, sig, mgr, logger)

	runChannels(ctx, mgr, passthrough, bb, publisher, uploader, cfg.DeviceID(), opts, logger)

	mgr.EmitConnect()

	control := ptt.New(opts.gpioChip, len(mgr.Channels()), mgr, logger)
	pttErr := make(chan error, 1)
	go func() { pttErr <- control.Run(ctx) }()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdown(mgr)

	select {
	case err := <-pttErr:
		if err != nil && ctx.Err() == nil {
			return err
		}
	case <-time.After(2 * time.Second):
	}
	return nil
}

// loadConfig reads the configuration document from the given path, falling
// back to the default location embedded in internal/config when the path
// matches it.
func loadConfig(path string) (*echoconfig.Config, error) {
	if path == echoconfig.Path {
		return echoconfig.Load()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return echoconfig.Parse(data)
}

// waitEndpoint blocks until signalling delivers the first SessionConfig,
// then dials the UDP transport and activates every channel (spec §4.9).
// A cancelled context returns immediately without activating anything.
func waitEndpoint(ctx context.Context, sig *signalling.Channel, mgr *session.Manager, logger *log.Logger) {
	select {
	case <-ctx.Done():
		return
	case sc, ok := <-sig.Events():
		if !ok {
			return
		}
		addr := fmt.Sprintf("%s:%d", sc.UDPHost, sc.UDPPort)
		t, err := transport.Dial(addr, logger)
		if err != nil {
			logger.Error("dial transport", "err", err)
			return
		}
		mgr.ActivateTransport(t)
		go t.RunKeepAlive(ctx)
		go t.RunReceive(ctx, mgr)
	}
}

// runChannels starts one capture worker and one playback worker per
// configured channel, plus a tone detector for each channel that requests
// one (spec §4.5, §4.6, §4.8).
func runChannels(ctx context.Context, mgr *session.Manager, passthrough *session.PassthroughState, bb *broadcast.Buffer, publisher core.TelemetryPublisher, uploader core.ClipUploader, deviceID string, opts runOptions, logger *log.Logger) {
	for _, ch := range mgr.Channels() {
		inBuf := make([]float32, device.InputChunkSamples)
		inStream, err := device.OpenInput(opts.inputDevice, inBuf)
		if err != nil {
			logger.Error("open input stream", "channel", ch.ID(), "err", err)
		} else {
			cc := &device.CaptureChannel{
				ChannelID:         ch.ID(),
				Key:               ch.SessionKey(),
				Codec:             ch.Codec(),
				PTT:               ch,
				Sender:            mgr,
				Stats:             ch.Stats(),
				Logger:            logger,
				BroadcastSource:   ch.BroadcastSource(),
				Broadcast:         bb,
				ToneDetectEnabled: func() bool { return ch.ToneDetect() },
				// original_source/audio.py defaults card1_input_enabled to
				// True at startup with no configuration surface to disable
				// it; EchoStream carries the same default.
				CardOneInputEnabled: func() bool { return true },
			}
			go cc.Run(ctx, inStream, inBuf)
		}

		outBuf := make([]float32, device.OutputChunkSamples)
		outStream, err := device.OpenOutput(opts.outputDevice, outBuf)
		if err != nil {
			logger.Error("open output stream", "channel", ch.ID(), "err", err)
		} else {
			pc := &device.PlaybackChannel{
				ChannelID:         ch.ID(),
				Jitter:            ch.Jitter(),
				Logger:            logger,
				PassthroughTarget: ch.PassthroughTarget(),
				Passthrough:       passthrough,
				Broadcast:         bb,
			}
			go pc.Run(ctx, outStream, outBuf)
		}

		if ch.ToneDetect() {
			det := tonedetect.New(ch.ToneConfig(), deviceID, bb, passthrough, publisher, uploader, logger)
			go det.Run(ctx)
		}
	}
}

// shutdown clears ptt_active on every channel so a subsequent restart does
// not inherit a stale transmit state (spec §5: orderly shutdown).
func shutdown(mgr *session.Manager) {
	for i, ch := range mgr.Channels() {
		if ch.Active() {
			mgr.EmitTransmitEnded(i)
		}
		ch.SetPTTActive(false)
		ch.SetSessionActive(false)
	}
}
