package wishlist

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"boutique/internal/util"
	"boutique/pkg/domain"
)

const (
	actionAdd    = "add"
	actionRemove = "remove"
)

// Outbox queues wishlist mutations on a Redis Stream and drains them
// through an inner Syncer in the background. Adds are applied locally
// right away and reconciled remotely later; a single consumer drains
// the stream so intents for one user stay ordered.
type Outbox struct {
	client     *redis.Client
	inner      Syncer
	stream     string
	group      string
	consumer   string
	maxRetries int
	block      time.Duration
	claimIdle  time.Duration
	retryDelay time.Duration
	maxLen     int64
	once       sync.Once
}

// OutboxConfig configures the wishlist outbox. Zero values get
// conservative defaults.
type OutboxConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
}

// NewOutbox builds an outbox draining into inner.
func NewOutbox(cfg OutboxConfig, inner Syncer) (*Outbox, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	if inner == nil {
		return nil, errors.New("inner syncer required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "boutique:wishlist:outbox"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "wishlist"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}

	return &Outbox{
		client:     redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		inner:      inner,
		stream:     stream,
		group:      group,
		consumer:   consumer,
		maxRetries: maxRetries,
		block:      block,
		claimIdle:  claimIdle,
		retryDelay: retryDelay,
		maxLen:     maxLen,
	}, nil
}

// Add enqueues the add intent. The caller applies the item locally;
// the remote catches up when the intent drains, so the outcome is
// AddLocalOnly unless the enqueue itself fails.
func (o *Outbox) Add(ctx context.Context, token string, item domain.WishlistItem) AddOutcome {
	payload, err := json.Marshal(item)
	if err != nil {
		slog.Warn("wishlist outbox: encode item failed", "productId", item.ID, "err", err)
		return AddFailed
	}
	if err := o.enqueue(ctx, map[string]any{
		"intent_id":  util.NewID(),
		"action":     actionAdd,
		"token":      token,
		"item":       string(payload),
		"product_id": strconv.Itoa(item.ID),
		"attempts":   "0",
	}); err != nil {
		slog.Warn("wishlist outbox: enqueue add failed", "productId", item.ID, "err", err)
		return AddFailed
	}
	return AddLocalOnly
}

// Remove enqueues the remove intent.
func (o *Outbox) Remove(ctx context.Context, token string, productID int) error {
	return o.enqueue(ctx, map[string]any{
		"intent_id":  util.NewID(),
		"action":     actionRemove,
		"token":      token,
		"product_id": strconv.Itoa(productID),
		"attempts":   "0",
	})
}

// Snapshot reads through to the inner syncer; reads are synchronous.
func (o *Outbox) Snapshot(ctx context.Context, token string) ([]domain.WishlistItem, bool, error) {
	return o.inner.Snapshot(ctx, token)
}

func (o *Outbox) enqueue(ctx context.Context, values map[string]any) error {
	return o.client.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: values,
	}).Err()
}

// Start launches the single consumer loop. It returns immediately and
// drains until ctx is canceled.
func (o *Outbox) Start(ctx context.Context) {
	o.ensureGroup(ctx)
	go o.consumeLoop(ctx)
}

func (o *Outbox) ensureGroup(ctx context.Context) {
	o.once.Do(func() {
		err := o.client.XGroupCreateMkStream(ctx, o.stream, o.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("wishlist outbox: create group failed", "err", err)
		}
	})
}

func (o *Outbox) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := o.claimPending(ctx); err == nil {
			for _, msg := range msgs {
				o.handleMessage(ctx, msg)
			}
		}

		streams, err := o.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    o.group,
			Consumer: o.consumer,
			Streams:  []string{o.stream, ">"},
			Count:    10,
			Block:    o.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				o.handleMessage(ctx, msg)
			}
		}
	}
}

func (o *Outbox) claimPending(ctx context.Context) ([]redis.XMessage, error) {
	res, _, err := o.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   o.stream,
		Group:    o.group,
		Consumer: o.consumer,
		MinIdle:  o.claimIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Outbox) handleMessage(ctx context.Context, msg redis.XMessage) {
	action, _ := msg.Values["action"].(string)
	token, _ := msg.Values["token"].(string)
	if action == "" || token == "" {
		o.ackAndDel(ctx, msg.ID)
		return
	}
	attempts := 0
	if raw, _ := msg.Values["attempts"].(string); raw != "" {
		attempts, _ = strconv.Atoi(raw)
	}

	err := o.apply(ctx, action, token, msg.Values)
	if err == nil {
		o.ackAndDel(ctx, msg.ID)
		return
	}
	if attempts+1 >= o.maxRetries {
		slog.Warn("wishlist outbox: intent dropped after retries",
			"action", action, "attempts", attempts+1, "err", err)
		o.ackAndDel(ctx, msg.ID)
		return
	}
	if o.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.retryDelay):
		}
	}
	if err := o.requeueAndAck(ctx, msg, attempts+1); err != nil {
		slog.Warn("wishlist outbox: requeue failed", "err", err)
	}
}

func (o *Outbox) apply(ctx context.Context, action, token string, values map[string]any) error {
	switch action {
	case actionAdd:
		raw, _ := values["item"].(string)
		var item domain.WishlistItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil // malformed intents are not retryable
		}
		if o.inner.Add(ctx, token, item) == AddFailed {
			return errRemoteAdd
		}
		return nil
	case actionRemove:
		raw, _ := values["product_id"].(string)
		productID, err := strconv.Atoi(raw)
		if err != nil {
			return nil
		}
		return o.inner.Remove(ctx, token, productID)
	default:
		return nil
	}
}

func (o *Outbox) ackAndDel(ctx context.Context, msgID string) {
	_, _ = o.client.XAck(ctx, o.stream, o.group, msgID).Result()
	_, _ = o.client.XDel(ctx, o.stream, msgID).Result()
}

func (o *Outbox) requeueAndAck(ctx context.Context, msg redis.XMessage, attempts int) error {
	values := make(map[string]any, len(msg.Values))
	for k, v := range msg.Values {
		values[k] = v
	}
	values["attempts"] = strconv.Itoa(attempts)

	pipe := o.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: values,
	})
	pipe.XAck(ctx, o.stream, o.group, msg.ID)
	pipe.XDel(ctx, o.stream, msg.ID)
	_, err := pipe.Exec(ctx)
	return err
}
