package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	redialBackoffMin = time.Second
	redialBackoffMax = 30 * time.Second
	dialTimeout      = 30 * time.Second
	heartbeat        = 10 * time.Second
)

// Client keeps one AMQP connection alive for the service: a confirmed
// publishing channel plus fresh per-consumer channels, re-established with
// backoff whenever the broker drops us. Topology is re-declared on every
// (re)connect so a wiped broker comes back usable.
type Client struct {
	url    string
	log    *logger.Logger
	logCtx context.Context // detached from the caller so reconnect logging survives shutdown ordering

	mu      sync.RWMutex
	conn    *amqp.Connection
	pubChan *amqp.Channel

	pubMu    sync.Mutex
	confirms chan amqp.Confirmation

	done   chan struct{}
	redial chan struct{}
}

// ConnectRabbitMQ dials the broker, declares the dispatch topology, and
// starts the redial watcher. The initial dial is a single attempt; retries
// only kick in for connections that were once healthy.
func ConnectRabbitMQ(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Client, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/", cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.Host, cfg.RabbitMQ.Port)

	client := &Client{
		url:    url,
		log:    log,
		logCtx: context.WithoutCancel(ctx),
		done:   make(chan struct{}),
		redial: make(chan struct{}, 1),
	}

	if err := client.setup(); err != nil {
		return nil, err
	}

	go client.redialLoop()

	return client, nil
}

// Close stops the watcher and tears down AMQP resources.
func (client *Client) Close() {
	select {
	case <-client.done:
	default:
		close(client.done)
	}

	client.mu.Lock()
	if client.pubChan != nil {
		_ = client.pubChan.Close()
		client.pubChan = nil
	}
	if client.conn != nil {
		_ = client.conn.Close()
		client.conn = nil
	}
	client.mu.Unlock()

	client.pubMu.Lock()
	if client.confirms != nil {
		close(client.confirms)
		client.confirms = nil
	}
	client.pubMu.Unlock()
}

// setup performs one full connect: dial, topology, confirmed publish channel.
func (client *Client) setup() (err error) {
	conn, err := amqp.DialConfig(client.url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		client.log.Error(client.logCtx, "rabbitmq_dial_failed", "failed to dial RabbitMQ", err, nil)
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}
	defer func() {
		if err != nil {
			_ = conn.Close()
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		client.log.Error(client.logCtx, "rabbitmq_channel_failed", "failed to open publish channel", err, nil)
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	defer func() {
		if err != nil {
			_ = ch.Close()
		}
	}()

	if err = declareTopology(ch); err != nil {
		client.log.Error(client.logCtx, "rabbitmq_topology_failed", "failed to declare topology", err, nil)
		return fmt.Errorf("rabbitmq: declare topology: %w", err)
	}

	if err = ch.Confirm(false); err != nil {
		client.log.Error(client.logCtx, "rabbitmq_confirms_failed", "failed to enable publisher confirms", err, nil)
		return fmt.Errorf("rabbitmq: enable confirms: %w", err)
	}

	// swap in the new confirm stream; waiters on the old one exit via close
	client.pubMu.Lock()
	stale := client.confirms
	client.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	client.pubMu.Unlock()
	if stale != nil {
		close(stale)
	}

	client.drainReturns(ch)

	client.mu.Lock()
	if client.pubChan != nil && !client.pubChan.IsClosed() {
		_ = client.pubChan.Close()
	}
	client.conn = conn
	client.pubChan = ch
	client.mu.Unlock()

	// either side closing means the publish path is gone; ask for a redial
	go func(conn *amqp.Connection, ch *amqp.Channel) {
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-client.done:
			return
		case <-connClosed:
		case <-chClosed:
		}

		select {
		case client.redial <- struct{}{}:
		default:
		}
	}(conn, ch)

	client.log.Info(client.logCtx, "rabbitmq_connected", "RabbitMQ connection established", nil)
	return nil
}

// drainReturns logs messages the broker bounced back as unroutable.
// Publishes go out with mandatory=true, so a missing binding shows up here
// instead of vanishing.
func (client *Client) drainReturns(ch *amqp.Channel) {
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	go func() {
		for r := range returns {
			client.log.Error(client.logCtx, "rabbitmq_unroutable",
				"message returned as unroutable",
				fmt.Errorf("code=%d text=%s", r.ReplyCode, r.ReplyText),
				map[string]any{
					"exchange":    r.Exchange,
					"routing_key": r.RoutingKey,
					"size":        len(r.Body),
				},
			)
		}
	}()
}

// redialLoop re-runs setup with exponential backoff until Close.
func (client *Client) redialLoop() {
	backoff := redialBackoffMin
	for {
		select {
		case <-client.done:
			return
		case <-client.redial:
			for {
				select {
				case <-client.done:
					return
				default:
				}

				if err := client.setup(); err == nil {
					backoff = redialBackoffMin
					client.log.Info(client.logCtx, "rabbitmq_reconnected", "reconnected and re-declared topology", nil)
					break
				} else {
					client.log.Error(client.logCtx, "rabbitmq_redial_failed", "reconnect attempt failed", err, nil)
				}

				time.Sleep(backoff)
				backoff *= 2
				if backoff > redialBackoffMax {
					backoff = redialBackoffMax
				}
			}
		}
	}
}
