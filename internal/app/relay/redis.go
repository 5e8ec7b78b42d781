package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"collabsync/internal/pkg/logx"
)

// ChannelPrefix namespaces the per-session pub/sub channels.
const ChannelPrefix = "collab:session:"

// Channel returns the pub/sub channel of a session.
func Channel(sessionID string) string {
	return ChannelPrefix + sessionID
}

// Redis relays frames through Redis pub/sub, one channel per session.
type Redis struct {
	client *redis.Client
	nodeID string
	logger zerolog.Logger
}

var _ Relay = (*Redis)(nil)

// NewRedis connects to the server at url (redis://...) and pings it.
func NewRedis(url, nodeID string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Redis{
		client: c,
		nodeID: nodeID,
		logger: logx.Component("relay").With().Str("node_id", nodeID).Logger(),
	}, nil
}

func (r *Redis) NodeID() string { return r.nodeID }

func (r *Redis) Publish(ctx context.Context, sessionID string, frame []byte) error {
	data, err := json.Marshal(Envelope{Origin: r.nodeID, SessionID: sessionID, Frame: frame})
	if err != nil {
		return fmt.Errorf("redis: encode envelope: %w", err)
	}
	return r.client.Publish(ctx, Channel(sessionID), data).Err()
}

// Subscribe pattern-subscribes to every session channel. It returns once the subscription is
// confirmed; delivery runs on its own goroutine until ctx is done.
func (r *Redis) Subscribe(ctx context.Context, h Handler) error {
	pubsub := r.client.PSubscribe(ctx, ChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis: psubscribe: %w", err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.deliver(msg, h)
			}
		}
	}()

	r.logger.Info().Str("pattern", ChannelPrefix+"*").Msg("Relay subscribed")
	return nil
}

func (r *Redis) deliver(msg *redis.Message, h Handler) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed relay envelope")
		return
	}
	if env.Origin == r.nodeID {
		return
	}
	if env.SessionID == "" {
		env.SessionID = strings.TrimPrefix(msg.Channel, ChannelPrefix)
	}
	h(env)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
