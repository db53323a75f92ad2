// Package mqtt publishes decoded telemetry records to an MQTT broker, one
// JSON message per record on <prefix>/<serial>.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"radiosonde-ng/internal/rs41"
)

type Config struct {
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	Retain      bool

	// QueueLen bounds the records waiting to be sent. Defaults to 64.
	QueueLen int
	// PublishTimeout bounds the wait for each publish token. Defaults to 5s.
	PublishTimeout time.Duration
}

// client is the subset of paho.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Message is the JSON body of every published record.
type Message struct {
	TimeUTC string `json:"time_utc"`
	rs41.SondeData
}

type Snapshot struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Publisher sends records from a bounded queue on its own goroutine so a
// slow broker never stalls the decoder. Records are dropped when the queue
// is full.
type Publisher struct {
	cfg    Config
	client client

	queue chan Message
	wg    sync.WaitGroup
	once  sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// DefaultClientID returns a client id unique to this process.
func DefaultClientID() string {
	return "radiosonde-ng-" + uuid.NewString()
}

// Connect dials the broker and returns a running publisher. Reconnects are
// handled by the client library.
func Connect(ctx context.Context, cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID()
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Printf("mqtt connected broker=%s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Printf("mqtt connection lost: %v", err)
	})

	c := paho.NewClient(opts)
	tok := c.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		c.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return newPublisher(cfg, c), nil
}

func newPublisher(cfg Config, c client) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "radiosonde"
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 64
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	p := &Publisher{cfg: cfg, client: c, queue: make(chan Message, cfg.QueueLen)}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Topic returns the topic a record with the given serial is published on.
func (p *Publisher) Topic(serial string) string {
	return strings.TrimRight(p.cfg.TopicPrefix, "/") + "/" + serial
}

// Publish queues a copy of d. Records without a serial number are skipped.
func (p *Publisher) Publish(now time.Time, d *rs41.SondeData) {
	if p == nil || d == nil || d.Serial == "" {
		return
	}
	msg := Message{TimeUTC: now.UTC().Format(time.RFC3339Nano), SondeData: *d}
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) loop() {
	defer p.wg.Done()
	for msg := range p.queue {
		b, err := json.Marshal(msg)
		if err != nil {
			p.failed.Add(1)
			continue
		}
		tok := p.client.Publish(p.Topic(msg.Serial), p.cfg.QoS, p.cfg.Retain, b)
		if !tok.WaitTimeout(p.cfg.PublishTimeout) {
			p.failed.Add(1)
			continue
		}
		if err := tok.Error(); err != nil {
			p.failed.Add(1)
			log.Printf("mqtt publish failed: %v", err)
			continue
		}
		p.published.Add(1)
	}
}

func (p *Publisher) Snapshot() Snapshot {
	if p == nil {
		return Snapshot{}
	}
	return Snapshot{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close drains queued records and disconnects. Publish must not be called
// after Close.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		close(p.queue)
		p.wg.Wait()
		p.client.Disconnect(250)
	})
}
