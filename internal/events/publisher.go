// Package events publishes job lifecycle events to an MQTT broker for
// external integrations. The publisher is optional: a nil *Publisher is
// a valid no-op.
package events

import (
	"encoding/json"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const topicPrefix = "vidscribe/jobs/"

// Event is one job lifecycle message.
type Event struct {
	JobID      string  `json:"job_id"`
	Type       string  `json:"type"` // submitted, progress, completed, failed
	Label      string  `json:"label,omitempty"`
	Percentage float64 `json:"percentage,omitempty"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// Publisher publishes job events over MQTT.
type Publisher struct {
	conn      mqtt.Client
	connected atomic.Bool
	log       zerolog.Logger
}

// Options configures the MQTT connection.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Log       zerolog.Logger
}

// Connect establishes the broker connection. Returns an error if the
// initial connect fails; afterwards the client auto-reconnects.
func Connect(opts Options) (*Publisher, error) {
	p := &Publisher{log: opts.Log}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(func(mqtt.Client) {
			p.connected.Store(true)
			p.log.Info().Msg("mqtt connected")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.connected.Store(false)
			p.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
		})

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	p.conn = mqtt.NewClient(clientOpts)
	token := p.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	return p, nil
}

// Publish sends one event on vidscribe/jobs/<id>. Fire-and-forget:
// failures are logged, never surfaced to the pipeline.
func (p *Publisher) Publish(ev Event) {
	if p == nil {
		return
	}
	ev.Timestamp = time.Now().Unix()
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Msg("marshal event")
		return
	}
	token := p.conn.Publish(topicPrefix+ev.JobID, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Warn().Err(err).Str("job_id", ev.JobID).Msg("mqtt publish failed")
		}
	}()
}

// IsConnected reports the current broker connection state.
func (p *Publisher) IsConnected() bool {
	return p != nil && p.connected.Load()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.log.Info().Msg("disconnecting mqtt publisher")
	p.conn.Disconnect(1000)
}
