// Package telemetry implements the detection-event publisher collaborator
// (spec §6 "Telemetry publisher"), grounded on original_source/mqtt.py's
// AWS-IoT MQTT topic convention (`from/device/<device_id>/tone_detection`)
// and QoS-1 publish call, using github.com/eclipse/paho.mqtt.golang — found
// in the pack's SDR manifest (other_examples/manifests/madpsy-ka9q_ubersdr)
// as the idiomatic Go MQTT client, since no example client in the pack
// itself talks MQTT.
package telemetry

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"echostream/internal/core"
)

// PublishTimeout bounds how long Publish waits for broker acknowledgement.
const PublishTimeout = 5 * time.Second

// PublishQoS matches original_source/mqtt.py's qos=1 ("at least once").
const PublishQoS = 1

// TLSConfig holds the AWS IoT-style mutual-TLS material
// (original_source/mqtt.py: AmazonRootCA1.pem + client cert/key).
type TLSConfig struct {
	CACertPath     string
	ClientCertPath string
	ClientKeyPath  string
}

// Publisher implements core.TelemetryPublisher over an MQTT broker
// connection.
type Publisher struct {
	client mqtt.Client
}

// Dial connects to the given broker ("tls://host:8883") as deviceID,
// optionally with mutual TLS.
func Dial(brokerURL, deviceID string, tlsCfg *TLSConfig) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(deviceID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true)

	if tlsCfg != nil {
		tc, err := buildTLSConfig(*tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("telemetry: tls setup: %w", err)
		}
		opts.SetTLSConfig(tc)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(PublishTimeout) {
		return nil, fmt.Errorf("telemetry: connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: connect: %w", err)
	}
	return &Publisher{client: client}, nil
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load client keypair: %w", err)
	}
	tc := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if cfg.CACertPath != "" {
		caPEM, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("read ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("parse ca cert %s: no certificates found", cfg.CACertPath)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

// PublishToneEvent implements core.TelemetryPublisher.
func (p *Publisher) PublishToneEvent(topic string, payload []byte) error {
	token := p.client.Publish(topic, PublishQoS, false, payload)
	if !token.WaitTimeout(PublishTimeout) {
		return fmt.Errorf("telemetry: publish to %s timed out", topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// Topic builds the AWS-IoT-style tone-detection topic for a device
// (original_source/mqtt.py: `from/device/{device_id}/tone_detection`).
func Topic(deviceID string) string {
	return fmt.Sprintf("from/device/%s/tone_detection", deviceID)
}

var _ core.TelemetryPublisher = (*Publisher)(nil)
