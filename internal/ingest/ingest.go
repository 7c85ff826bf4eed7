// Package ingest forwards interaction events to an external ingestion
// server. Events go onto a watermill topic, in process or over Redis
// Streams, and a forwarder POSTs each one to the server.
package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTopic  = "voyager.interactions"
	consumerGroup = "voyager-ingest"
	source        = "voyager"
)

// Event is the body sent to the ingest endpoint.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

type Settings struct {
	Enabled   bool
	ServerURL string
	Token     string
	// RedisAddr switches the transport from in-process to Redis Streams.
	RedisAddr string
	Topic     string
	Timeout   time.Duration
}

// Service publishes events and runs the forwarder. A disabled Service drops
// every event.
type Service struct {
	pub    message.Publisher
	topic  string
	closer []func() error
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Disabled returns a Service whose Publish does nothing.
func Disabled() *Service { return &Service{} }

func New(s Settings) (*Service, error) {
	if !s.Enabled {
		log.Info().Str("component", "ingest").Msg("event ingestion disabled")
		return Disabled(), nil
	}
	if s.ServerURL == "" {
		return nil, errors.New("ingest: server url is required")
	}
	if s.Topic == "" {
		s.Topic = DefaultTopic
	}
	logger := NewWatermillLogger(log.Logger.With().Str("component", "watermill").Logger())

	svc := &Service{topic: s.Topic}
	var sub message.Subscriber
	if s.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		marshaler := rstream.DefaultMarshallerUnmarshaller{}
		pub, err := rstream.NewPublisher(rstream.PublisherConfig{Client: client, Marshaller: marshaler}, logger)
		if err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "ingest: redis publisher")
		}
		rsub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
			Client:        client,
			Unmarshaller:  marshaler,
			ConsumerGroup: consumerGroup,
			Consumer:      watermill.NewShortUUID(),
		}, logger)
		if err != nil {
			_ = pub.Close()
			_ = client.Close()
			return nil, errors.Wrap(err, "ingest: redis subscriber")
		}
		svc.pub, sub = pub, rsub
		svc.closer = append(svc.closer, pub.Close, rsub.Close, client.Close)
	} else {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		svc.pub, sub = ch, ch
		svc.closer = append(svc.closer, ch.Close)
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc.cancel = cancel
	msgs, err := sub.Subscribe(ctx, s.Topic)
	if err != nil {
		cancel()
		svc.closeTransport()
		return nil, errors.Wrap(err, "ingest: subscribe")
	}
	fwd := NewForwarder(s.ServerURL, s.Token, s.Timeout)
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		fwd.Consume(ctx, msgs)
	}()
	log.Info().Str("component", "ingest").Str("server", s.ServerURL).Bool("redis", s.RedisAddr != "").Msg("event ingestion enabled")
	return svc, nil
}

func (s *Service) Enabled() bool { return s.pub != nil }

// Publish queues an event and returns immediately. Failures are logged.
func (s *Service) Publish(eventType string, data any) {
	if s == nil || s.pub == nil {
		return
	}
	b, err := json.Marshal(Event{Type: eventType, Data: data, Timestamp: time.Now().UTC(), Source: source})
	if err != nil {
		log.Warn().Err(err).Str("component", "ingest").Str("type", eventType).Msg("encode event failed")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	if err := s.pub.Publish(s.topic, msg); err != nil {
		log.Warn().Err(err).Str("component", "ingest").Str("type", eventType).Msg("publish event failed")
	}
}

// Close stops the forwarder and the transport.
func (s *Service) Close() error {
	if s == nil || s.pub == nil {
		return nil
	}
	s.once.Do(func() {
		s.cancel()
		s.closeTransport()
		s.wg.Wait()
	})
	return nil
}

func (s *Service) closeTransport() {
	for _, c := range s.closer {
		if err := c(); err != nil {
			log.Warn().Err(err).Str("component", "ingest").Msg("close transport")
		}
	}
}
