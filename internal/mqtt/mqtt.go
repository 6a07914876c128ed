package mqtt

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/logging"
)

// ClientAPI is the broker surface the HDP bridge needs.
type ClientAPI interface {
	Subscribe(topic string, cb Handler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
	PublishWith(topic string, payload []byte, retain bool) error
}

// Handler receives one message.
type Handler func(topic string, payload []byte)

// Will is published by the broker when the connection drops.
type Will struct {
	Topic   string
	Payload []byte
	Retain  bool
}

type Options struct {
	BrokerURL string
	ClientID  string
	Will      *Will
}

type Client struct {
	cli paho.Client
	log *slog.Logger

	mu   sync.Mutex
	subs map[string]Handler
}

// New connects to the broker. Subscriptions are restored after reconnects.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	server, err := brokerServer(u)
	if err != nil {
		return nil, err
	}
	c := &Client{log: logging.Named("mqtt"), subs: map[string]Handler{}}

	po := paho.NewClientOptions()
	po.AddBroker(server)
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "intg-requests"
	}
	po.SetClientID(clientID + "-" + time.Now().Format("150405.000"))
	po.SetAutoReconnect(true)
	// Command handlers block on device I/O; let paho run them concurrently.
	po.SetOrderMatters(false)
	po.SetConnectTimeout(10 * time.Second)
	po.OnConnect = func(paho.Client) {
		c.log.Info("mqtt connected", "broker", u.Redacted())
		c.resubscribe()
	}
	po.OnConnectionLost = func(_ paho.Client, err error) { c.log.Error("mqtt connection lost", "error", err) }
	if u.User != nil {
		pw, _ := u.User.Password()
		po.SetUsername(u.User.Username())
		po.SetPassword(pw)
	}
	if u.Scheme == "ssl" || u.Scheme == "tls" || u.Scheme == "wss" {
		po.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if w := opts.Will; w != nil {
		po.SetBinaryWill(w.Topic, w.Payload, 1, w.Retain)
	}

	c.cli = paho.NewClient(po)
	if t := c.cli.Connect(); t.Wait() && t.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", t.Error())
	}
	return c, nil
}

func brokerServer(u *url.URL) (string, error) {
	switch u.Scheme {
	case "mqtt", "tcp":
		return "tcp://" + u.Host, nil
	case "ssl", "tls", "mqtts":
		return "ssl://" + u.Host, nil
	case "ws", "wss":
		return u.Scheme + "://" + u.Host + u.Path, nil
	default:
		return "", fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}

func (c *Client) Subscribe(topic string, cb Handler) error {
	t := c.cli.Subscribe(topic, 0, wrap(cb))
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	c.mu.Lock()
	c.subs[topic] = cb
	c.mu.Unlock()
	c.log.Info("mqtt subscribed", "topic", topic)
	return nil
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, cb := range c.subs {
		if t := c.cli.Subscribe(topic, 0, wrap(cb)); t.Wait() && t.Error() != nil {
			c.log.Warn("mqtt resubscribe failed", "topic", topic, "error", t.Error())
		}
	}
}

func (c *Client) Publish(topic string, payload []byte) error {
	return c.PublishWith(topic, payload, false)
}

func (c *Client) PublishWith(topic string, payload []byte, retain bool) error {
	t := c.cli.Publish(topic, 0, retain, payload)
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	return nil
}

func (c *Client) Unsubscribe(topic string) error {
	t := c.cli.Unsubscribe(topic)
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
	c.log.Info("mqtt unsubscribed", "topic", topic)
	return nil
}

func (c *Client) Disconnect() {
	c.cli.Disconnect(250)
}

func wrap(cb Handler) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) { cb(m.Topic(), m.Payload()) }
}
