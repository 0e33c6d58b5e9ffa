package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	coremon "github.com/kilianp07/dispense/core/monitoring"
	"github.com/kilianp07/dispense/core/robot"
	"github.com/kilianp07/dispense/infra/logger"
)

var (
	// ErrAckTimeout is returned when the bridge does not answer in time.
	ErrAckTimeout = errors.New("timeout waiting for ack")
	// ErrCommandRejected is returned when the bridge acks with an error.
	ErrCommandRejected = errors.New("robot rejected command")
)

// Command is the JSON message published for every robot primitive.
type Command struct {
	CommandID string           `json:"command_id"`
	Action    string           `json:"action"`
	Pipette   string           `json:"pipette,omitempty"`
	Mount     robot.Mount      `json:"mount,omitempty"`
	LoadName  string           `json:"load_name,omitempty"`
	Slot      int              `json:"slot,omitempty"`
	TipRacks  []int            `json:"tip_racks,omitempty"`
	Volume    float64          `json:"volume,omitempty"`
	Volumes   []float64        `json:"volumes,omitempty"`
	Rate      float64          `json:"rate,omitempty"`
	Location  *robot.Location  `json:"location,omitempty"`
	Locations []robot.Location `json:"locations,omitempty"`
	VOffset   float64          `json:"v_offset,omitempty"`
	Speed     float64          `json:"speed,omitempty"`
	TipPolicy robot.TipPolicy  `json:"tip_policy,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// Ack is the bridge answer to a Command.
type Ack struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// pahoClient is the subset of paho.Client used by Client.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Client publishes robot commands and correlates acknowledgments by id.
type Client struct {
	cli    pahoClient
	cfg    Config
	logger logger.Logger

	mu      sync.Mutex
	pending map[string]chan Ack
	// ready is set once NewClient holds the ack subscription.
	ready atomic.Bool
}

// NewClient connects to the broker and subscribes to the ack topic.
func NewClient(cfg Config) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_robot")
	c := &Client{cfg: cfg, logger: log, pending: make(map[string]chan Ack)}

	// paho runs OnConnect on its own goroutine, so the first subscription
	// is made below before any command can be published. OnConnect only
	// restores it after a reconnect.
	opts.OnConnect = func(pc paho.Client) {
		log.Infof("MQTT connected")
		if !c.ready.Load() {
			return
		}
		if err := c.subscribe(pc); err != nil {
			log.Errorf("subscribe error: %v", err)
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	if err := c.subscribe(cli); err != nil {
		cli.Disconnect(250)
		return nil, fmt.Errorf("subscribe %s: %w", cfg.ackTopic(), err)
	}
	c.ready.Store(true)
	c.cli = cli
	return c, nil
}

type subscriber interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

func (c *Client) subscribe(s subscriber) error {
	token := s.Subscribe(c.cfg.ackTopic(), c.cfg.qos("ack"), c.onAck)
	token.Wait()
	return token.Error()
}

func (c *Client) onAck(_ paho.Client, msg paho.Message) {
	var ack Ack
	if err := json.Unmarshal(msg.Payload(), &ack); err != nil {
		c.logger.Errorf("failed to decode ack: %v", err)
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[ack.CommandID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debugf("ack for unknown command %s", ack.CommandID)
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

// Send publishes cmd and blocks until the bridge acknowledges it, the ack
// timeout expires or ctx is done. Only the publish is retried; a command the
// bridge may have received is never sent twice.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	cmd.CommandID = uuid.NewString()
	cmd.Timestamp = time.Now().UnixMilli()
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	ch := make(chan Ack, 1)
	c.mu.Lock()
	c.pending[cmd.CommandID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.CommandID)
		c.mu.Unlock()
	}()

	if err := c.publish(ctx, cmd, payload); err != nil {
		coremon.CaptureException(err, map[string]string{"module": "mqtt", "action": cmd.Action})
		return err
	}

	timer := time.NewTimer(c.cfg.ackTimeout())
	defer timer.Stop()
	select {
	case ack := <-ch:
		if ack.Status != "ok" {
			return fmt.Errorf("%w: %s: %s", ErrCommandRejected, cmd.Action, ack.Error)
		}
		c.logger.Debugf("ack %s for %s", cmd.CommandID, cmd.Action)
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s %s", ErrAckTimeout, cmd.Action, cmd.CommandID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) publish(ctx context.Context, cmd Command, payload []byte) error {
	backoff := time.Duration(c.cfg.BackoffMS) * time.Millisecond
	var publishErr error
	for attempt := 0; attempt <= *c.cfg.MaxRetries; attempt++ {
		token := c.cli.Publish(c.cfg.commandTopic(), c.cfg.qos("command"), false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			c.logger.Debugf("sent %s %s", cmd.Action, cmd.CommandID)
			return nil
		}
		c.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		select {
		case <-time.After(backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("publish %s: %w", cmd.Action, publishErr)
}

// Disconnect gracefully closes the MQTT connection.
func (c *Client) Disconnect() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}
