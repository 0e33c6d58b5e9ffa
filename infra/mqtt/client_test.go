package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dispense/core/robot"
)

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	caFile = dir + "/ca.pem"
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0644); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if err := os.WriteFile(caFile, certPEM, 0644); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	return
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("load tls: %v", err)
	}
	if len(tlsCfg.Certificates) == 0 {
		t.Fatalf("no certs loaded")
	}
	if tlsCfg.RootCAs == nil {
		t.Fatalf("no root CAs")
	}
}

func TestLoadTLSConfigMissingFiles(t *testing.T) {
	if _, err := (Config{UseTLS: true}).LoadTLSConfig(); err == nil {
		t.Fatalf("expected error without cert paths")
	}
}

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Fatalf("auth not set")
	}
}

// mockClient records traffic and answers every command on the ack topic.
type mockClient struct {
	mu          sync.Mutex
	opts        *paho.ClientOptions
	subscribed  []subscription
	published   []publication
	publishErrs []error
	subErr      error
	ackHandler  paho.MessageHandler
	// order lists "subscribe" and "publish" calls as they happen.
	order []string
	// reply builds the ack for a published command; nil means no ack.
	reply func(Command) *Ack
}

type subscription struct {
	topic string
	qos   byte
}

type publication struct {
	topic   string
	qos     byte
	payload []byte
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	var err error
	if len(m.publishErrs) > 0 {
		err = m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
	}
	b, _ := payload.([]byte)
	m.published = append(m.published, publication{topic: topic, qos: qos, payload: b})
	m.order = append(m.order, "publish")
	handler, reply := m.ackHandler, m.reply
	m.mu.Unlock()
	if err == nil && handler != nil && reply != nil {
		var cmd Command
		_ = json.Unmarshal(b, &cmd)
		if ack := reply(cmd); ack != nil {
			raw, _ := json.Marshal(ack)
			go handler(m, mockMessage{raw})
		}
	}
	return &dummyToken{err: err}
}
func (m *mockClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = append(m.order, "subscribe")
	if m.subErr != nil {
		return &dummyToken{err: m.subErr}
	}
	m.subscribed = append(m.subscribed, subscription{topic: topic, qos: qos})
	m.ackHandler = cb
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

func (m *mockClient) commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, 0, len(m.published))
	for _, p := range m.published {
		var c Command
		_ = json.Unmarshal(p.payload, &c)
		out = append(out, c)
	}
	return out
}

type dummyToken struct{ err error }

func (d *dummyToken) Wait() bool                     { return true }
func (d *dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d *dummyToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (d *dummyToken) Error() error { return d.err }

type mockMessage struct{ p []byte }

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return "" }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}

func okReply(c Command) *Ack { return &Ack{CommandID: c.CommandID, Status: "ok"} }

func withMock(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } })
}

func TestQoSAndTopics(t *testing.T) {
	mc := &mockClient{reply: okReply}
	withMock(t, mc)
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", TopicPrefix: "lab/ot2", QoS: map[string]byte{"command": 2, "ack": 0}}
	cli, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if len(mc.subscribed) != 1 || mc.subscribed[0].topic != "lab/ot2/ack" || mc.subscribed[0].qos != 0 {
		t.Fatalf("unexpected subscription: %+v", mc.subscribed)
	}
	if err := cli.Send(context.Background(), Command{Action: "home"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if mc.published[0].topic != "lab/ot2/command" || mc.published[0].qos != 2 {
		t.Fatalf("publish topic or qos not applied: %+v", mc.published[0])
	}
}

func TestAckSubscriptionPrecedesFirstCommand(t *testing.T) {
	mc := &mockClient{reply: okReply}
	withMock(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883", ClientID: "id"})
	require.NoError(t, err)
	require.NoError(t, cli.Send(context.Background(), Command{Action: "load_labware"}))

	mc.mu.Lock()
	defer mc.mu.Unlock()
	require.NotEmpty(t, mc.order)
	assert.Equal(t, []string{"subscribe", "publish"}, mc.order)
}

func TestReconnectRestoresAckSubscription(t *testing.T) {
	mc := &mockClient{reply: okReply}
	withMock(t, mc)
	_, err := NewClient(Config{Broker: "tcp://localhost:1883", ClientID: "id"})
	require.NoError(t, err)

	mc.opts.OnConnect(mc)
	mc.mu.Lock()
	defer mc.mu.Unlock()
	assert.Len(t, mc.subscribed, 2)
	assert.Equal(t, "dispense/robot/ack", mc.subscribed[1].topic)
}

func TestNewClientFailsWithoutAckSubscription(t *testing.T) {
	mc := &mockClient{subErr: errors.New("not authorized")}
	withMock(t, mc)
	_, err := NewClient(Config{Broker: "tcp://localhost:1883", ClientID: "id"})
	require.ErrorContains(t, err, "not authorized")
}

func TestLWTConfigured(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", LWTTopic: "lwt", LWTPayload: "bye", LWTQoS: 1}
	cli, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if !mc.opts.WillEnabled {
		t.Fatalf("will not enabled")
	}
	if mc.opts.WillTopic != "lwt" || string(mc.opts.WillPayload) != "bye" {
		t.Fatalf("will options incorrect")
	}
	cli.Disconnect()
	if len(mc.published) != 0 {
		t.Fatalf("unexpected publish on disconnect")
	}
}

func TestRetryLogic(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail"), nil}, reply: okReply}
	withMock(t, mc)
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: intPtr(1), BackoffMS: 1}
	cli, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if err := cli.Send(context.Background(), Command{Action: "home"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(mc.published) != 2 {
		t.Fatalf("expected retries, got %d publishes", len(mc.published))
	}
}

func intPtr(n int) *int { return &n }

func TestZeroRetriesPublishesOnce(t *testing.T) {
	fail := errors.New("net fail")
	mc := &mockClient{publishErrs: []error{fail, nil}, reply: okReply}
	withMock(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883", MaxRetries: intPtr(0), BackoffMS: 1})
	require.NoError(t, err)
	require.ErrorIs(t, cli.Send(context.Background(), Command{Action: "home"}), fail)
	assert.Len(t, mc.published, 1)
}

func TestRetryDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	require.NotNil(t, cfg.MaxRetries)
	assert.Equal(t, 3, *cfg.MaxRetries)
	assert.Error(t, Config{Broker: "tcp://x:1883", MaxRetries: intPtr(-1)}.Validate())
}

func TestPublishExhaustsRetries(t *testing.T) {
	fail := errors.New("net fail")
	mc := &mockClient{publishErrs: []error{fail, fail}}
	withMock(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883", MaxRetries: intPtr(1), BackoffMS: 1})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if err := cli.Send(context.Background(), Command{Action: "home"}); !errors.Is(err, fail) {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestAckTimeout(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	cli.cfg.AckTimeoutSeconds = 0
	if err := cli.Send(context.Background(), Command{Action: "home"}); !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestAckContextCancel(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := cli.Send(ctx, Command{Action: "home"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRejectedCommand(t *testing.T) {
	mc := &mockClient{reply: func(c Command) *Ack {
		return &Ack{CommandID: c.CommandID, Status: "error", Error: "no tip"}
	}}
	withMock(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if err := cli.Send(context.Background(), Command{Action: "drop_tip"}); !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestUnknownAckIgnored(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	cli.onAck(nil, mockMessage{[]byte(`{"command_id":"nope","status":"ok"}`)})
	cli.onAck(nil, mockMessage{[]byte(`not json`)})
}

func TestRobotDriver(t *testing.T) {
	mc := &mockClient{reply: okReply}
	withMock(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	r := newRobot(cli)
	ctx := context.Background()

	tips, err := r.LoadLabware(ctx, "opentrons_96_tiprack_300ul", 8)
	if err != nil {
		t.Fatalf("load tips: %v", err)
	}
	plate, err := r.LoadLabware(ctx, "corning_96_wellplate_360ul_flat", 1)
	if err != nil {
		t.Fatalf("load plate: %v", err)
	}
	if _, err := r.LoadLabware(ctx, "corning_96_wellplate_360ul_flat", 1); err == nil {
		t.Fatalf("expected occupied slot error")
	}
	if _, err := r.LoadInstrument(ctx, "p300_single_gen2", robot.MountRight, []*robot.Labware{plate}); err == nil {
		t.Fatalf("expected tip rack error")
	}
	p, err := r.LoadInstrument(ctx, "p300_single_gen2", robot.MountRight, []*robot.Labware{tips})
	if err != nil {
		t.Fatalf("load instrument: %v", err)
	}
	if p.MaxVolume() != 300 || p.Name() != "p300_single_gen2" {
		t.Fatalf("unexpected pipette %s %v", p.Name(), p.MaxVolume())
	}
	if err := p.PickUpTip(ctx); err != nil {
		t.Fatalf("pick up: %v", err)
	}
	if !p.HasTip() {
		t.Fatalf("tip not tracked")
	}
	a1, _ := plate.Location("A1")
	if err := p.Dispense(ctx, 5, a1, 2); err != nil {
		t.Fatalf("dispense: %v", err)
	}
	if err := p.Transfer(ctx, []float64{1, 2}, a1, []robot.Location{a1}, robot.TipNever); err == nil {
		t.Fatalf("expected length mismatch")
	}
	if err := p.DropTip(ctx); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if p.HasTip() {
		t.Fatalf("tip still tracked")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var actions []string
	for _, c := range mc.commands() {
		actions = append(actions, c.Action)
	}
	want := []string{"load_labware", "load_labware", "load_instrument", "pick_up_tip", "dispense", "drop_tip"}
	if fmt.Sprint(actions) != fmt.Sprint(want) {
		t.Fatalf("actions = %v, want %v", actions, want)
	}
	last := mc.commands()[4]
	if last.Location == nil || last.Location.Well != "A1" || last.Mount != robot.MountRight {
		t.Fatalf("dispense command incomplete: %+v", last)
	}
}

func TestFailedPickUpKeepsTipState(t *testing.T) {
	mc := &mockClient{reply: func(c Command) *Ack {
		return &Ack{CommandID: c.CommandID, Status: "error", Error: "rack empty"}
	}}
	withMock(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	p := &Pipette{client: cli, def: robot.PipetteDef{Name: "p20_single_gen2", MaxUL: 20}, mount: robot.MountLeft}
	if err := p.PickUpTip(context.Background()); err == nil {
		t.Fatalf("expected rejection")
	}
	if p.HasTip() {
		t.Fatalf("tip marked after rejected pick up")
	}
}
