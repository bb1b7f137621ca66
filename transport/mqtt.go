package transport

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/iotartic/sunit/log2"
	"github.com/juju/errors"
)

const (
	DefaultMQTTKeepAlive = 30 * time.Second
	mqttInboxSize        = 8
	mqttQuiesceMs        = 250
)

var ErrTimeout = errors.New("timeout")

// MQTTTransport publishes frames to PublishTopic and receives replies
// on SubscribeTopic+hex(mac). QoS 0 both ways, the protocol acks itself.
// Tunnel interface binding is not applied, broker connection uses default route.
type MQTTTransport struct {
	Stat
	mu       sync.Mutex
	c        Config
	log      *log2.Log
	topicIn  string
	clientID string
	m        mqtt.Client
	inbox    chan []byte
}

func NewMQTT(log *log2.Log, c Config) (*MQTTTransport, error) {
	if c.MQTT.BrokerURL == "" {
		return nil, errors.NotValidf("mqtt broker_url empty")
	}
	if c.MQTT.PublishTopic == "" || c.MQTT.SubscribeTopic == "" {
		return nil, errors.NotValidf("mqtt topics empty")
	}
	if len(c.MAC) == 0 {
		return nil, errors.NotValidf("mqtt requires device mac")
	}
	mqtt.ERROR = log
	mqtt.CRITICAL = log
	t := &MQTTTransport{
		c:        c,
		log:      log,
		topicIn:  c.MQTT.SubscribeTopic + hex.EncodeToString(c.MAC),
		clientID: c.MQTT.ClientID,
	}
	if t.clientID == "" {
		t.clientID = fmt.Sprintf("sunit-%x", c.MAC)
	}
	return t, nil
}

func (t *MQTTTransport) SubscribeTopic() string { return t.topicIn }

func (t *MQTTTransport) fail(op string, err error) error { return failure(t.c.Tunnel, op, err) }

func (t *MQTTTransport) wait(tok mqtt.Token, op string) error {
	if !tok.WaitTimeout(t.c.dialTimeout()) {
		return t.fail(op, ErrTimeout)
	}
	if err := tok.Error(); err != nil {
		return t.fail(op, err)
	}
	return nil
}

func (t *MQTTTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m != nil {
		return nil
	}
	keepAlive := t.c.MQTT.KeepAlive
	if keepAlive == 0 {
		keepAlive = DefaultMQTTKeepAlive
	}
	inbox := make(chan []byte, mqttInboxSize)
	opts := mqtt.NewClientOptions().
		AddBroker(t.c.MQTT.BrokerURL).
		SetClientID(t.clientID).
		SetUsername(t.c.MQTT.Username).
		SetPassword(t.c.MQTT.Password).
		SetCleanSession(true).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(t.c.dialTimeout()).
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			t.log.Errorf("transport mqtt connection lost err=%v", err)
		})
	m := mqtt.NewClient(opts)
	if err := t.wait(m.Connect(), "mqtt connect "+t.c.MQTT.BrokerURL); err != nil {
		return err
	}
	onMessage := func(c mqtt.Client, msg mqtt.Message) {
		b := append([]byte(nil), msg.Payload()...)
		select {
		case inbox <- b:
		default:
			t.log.Errorf("transport mqtt inbox full, dropped len=%d", len(b))
		}
	}
	if err := t.wait(m.Subscribe(t.topicIn, 0, onMessage), "mqtt subscribe "+t.topicIn); err != nil {
		m.Disconnect(mqttQuiesceMs)
		return err
	}
	t.log.Debugf("transport mqtt open broker=%s subscribe=%s", t.c.MQTT.BrokerURL, t.topicIn)
	t.m = m
	t.inbox = inbox
	return nil
}

func (t *MQTTTransport) get() (mqtt.Client, chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		return nil, nil, ErrNotOpen
	}
	return t.m, t.inbox, nil
}

func (t *MQTTTransport) Send(ctx context.Context, b []byte) error {
	m, _, err := t.get()
	if err != nil {
		return t.fail("mqtt publish", err)
	}
	if err = t.wait(m.Publish(t.c.MQTT.PublishTopic, 0, false, b), "mqtt publish"); err != nil {
		return err
	}
	t.sent(len(b))
	return nil
}

func (t *MQTTTransport) Receive(ctx context.Context, max int, timeout time.Duration) ([]byte, error) {
	_, inbox, err := t.get()
	if err != nil {
		return nil, t.fail("mqtt receive", err)
	}
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	select {
	case b := <-inbox:
		if len(b) > max {
			b = b[:max]
		}
		t.received(len(b))
		return b, nil
	case <-tmr.C:
		return nil, t.fail("mqtt receive", ErrTimeout)
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	}
}

func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		return nil
	}
	t.m.Disconnect(mqttQuiesceMs)
	t.m = nil
	t.inbox = nil
	t.log.Debugf("transport mqtt close %s", t.Stat.String())
	return nil
}
