// Package livefeed mirrors the game log's live state into Redis for push-based spectators.
package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/park285/chess-gamelog/internal/gamelog"
)

const (
	ttlLive       = 24 * time.Hour
	EventsChannel = "gamelog:events"
)

const (
	EventLive     = "live"
	EventFinished = "finished"
)

// Event is the message published on EventsChannel.
type Event struct {
	EventID string                `json:"event_id"`
	Type    string                `json:"type"`
	GameID  string                `json:"game_id"`
	Live    *gamelog.LiveSnapshot `json:"live,omitempty"`
	Result  string                `json:"result,omitempty"`
	Reason  string                `json:"termination,omitempty"`
	At      time.Time             `json:"at"`
}

// Publisher implements gamelog.LiveNotifier.
type Publisher struct {
	rdb *redis.Client
	now func() time.Time
}

var _ gamelog.LiveNotifier = (*Publisher)(nil)

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb, now: time.Now}
}

// Dial connects to the server named by a redis:// or rediss:// URL.
func Dial(ctx context.Context, redisURL string) (*Publisher, error) {
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewPublisher(rdb), nil
}

func (p *Publisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}

func keyLive(gameID string) string { return "gamelog:live:" + strings.TrimSpace(gameID) }

func keyIndex() string { return "gamelog:live" }

func (p *Publisher) PublishLive(ctx context.Context, snap gamelog.LiveSnapshot) error {
	raw, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	ev, err := p.event(EventLive, snap.GameID)
	if err != nil {
		return err
	}
	ev.Live = &snap
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := p.rdb.TxPipeline()
	pipe.Set(ctx, keyLive(snap.GameID), raw, ttlLive)
	pipe.SAdd(ctx, keyIndex(), snap.GameID)
	pipe.Expire(ctx, keyIndex(), ttlLive)
	pipe.Publish(ctx, EventsChannel, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish live: %w", err)
	}
	return nil
}

func (p *Publisher) PublishFinished(ctx context.Context, game gamelog.FinishedGame) error {
	ev, err := p.event(EventFinished, game.GameID)
	if err != nil {
		return err
	}
	ev.Result = game.Result
	ev.Reason = game.Termination
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := p.rdb.TxPipeline()
	pipe.Del(ctx, keyLive(game.GameID))
	pipe.SRem(ctx, keyIndex(), game.GameID)
	pipe.Publish(ctx, EventsChannel, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish finished: %w", err)
	}
	return nil
}

func (p *Publisher) event(kind, gameID string) (*Event, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("event id: %w", err)
	}
	return &Event{EventID: id.String(), Type: kind, GameID: gameID, At: p.now().UTC()}, nil
}

// Snapshot returns the mirrored live state, or nil when the game is not live.
func (p *Publisher) Snapshot(ctx context.Context, gameID string) (*gamelog.LiveSnapshot, error) {
	raw, err := p.rdb.Get(ctx, keyLive(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap gamelog.LiveSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// LiveIDs lists mirrored game ids. Entries whose snapshot expired are skipped.
func (p *Publisher) LiveIDs(ctx context.Context) ([]string, error) {
	ids, err := p.rdb.SMembers(ctx, keyIndex()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := p.rdb.Exists(ctx, keyLive(id)).Result()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out = append(out, id)
		}
	}
	return out, nil
}

// Subscribe returns a subscription to EventsChannel. Callers close it.
func (p *Publisher) Subscribe(ctx context.Context) *redis.PubSub {
	return p.rdb.Subscribe(ctx, EventsChannel)
}

// DecodeEvent parses a message received on EventsChannel.
func DecodeEvent(payload string) (*Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &ev, nil
}

// ParseRedisURL converts redis://[user:password@]host:port[/db] into client options.
// rediss:// enables TLS.
func ParseRedisURL(raw string) (*redis.Options, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}
