package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/northbeam/binarb/internal/domain"
	"github.com/redis/go-redis/v9"
)

const bookMirrorTTL = 30 * time.Second

// BookMirror implements domain.BookMirror using a Redis hash per token,
// so a dashboard or a secondary instance can read top-of-book state
// without talking to the process that owns the live book.Store. It is
// advisory only and carries a short TTL: a mirror entry that falls
// through to ErrNotFound just means the writer process went away.
//
// Key schema:
//
//	book:{token} - hash with fields bid_tick, ask_tick, bid_size, ask_size,
//	               has_bid, has_ask, seq, updated_at (unix nano)
type BookMirror struct {
	rdb *redis.Client
}

// NewBookMirror creates a BookMirror backed by the given Client.
func NewBookMirror(c *Client) *BookMirror {
	return &BookMirror{rdb: c.Underlying()}
}

func bookMirrorKey(token string) string { return "book:" + token }

// SetSnapshot writes the current top-of-book for a token, refreshing its TTL.
func (m *BookMirror) SetSnapshot(ctx context.Context, book domain.TokenBook) error {
	key := bookMirrorKey(book.Token)
	fields := map[string]interface{}{
		"bid_tick":   strconv.FormatInt(book.BestBidTick, 10),
		"ask_tick":   strconv.FormatInt(book.BestAskTick, 10),
		"bid_size":   strconv.FormatInt(book.BestBidSize, 10),
		"ask_size":   strconv.FormatInt(book.BestAskSize, 10),
		"has_bid":    strconv.FormatBool(book.HasBid),
		"has_ask":    strconv.FormatBool(book.HasAsk),
		"seq":        strconv.FormatUint(book.Seq, 10),
		"updated_at": strconv.FormatInt(book.UpdatedAt.UnixNano(), 10),
	}

	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, bookMirrorTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book snapshot %s: %w", book.Token, err)
	}
	return nil
}

// GetSnapshot reads back a mirrored token book. It returns domain.ErrNotFound
// if no mirror entry exists (never written, or expired).
func (m *BookMirror) GetSnapshot(ctx context.Context, token string) (domain.TokenBook, error) {
	vals, err := m.rdb.HGetAll(ctx, bookMirrorKey(token)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.TokenBook{}, fmt.Errorf("redis: get book snapshot %s: %w", token, err)
	}
	if len(vals) == 0 {
		return domain.TokenBook{}, domain.ErrNotFound
	}

	book := domain.TokenBook{Token: token}
	book.BestBidTick, _ = strconv.ParseInt(vals["bid_tick"], 10, 64)
	book.BestAskTick, _ = strconv.ParseInt(vals["ask_tick"], 10, 64)
	book.BestBidSize, _ = strconv.ParseInt(vals["bid_size"], 10, 64)
	book.BestAskSize, _ = strconv.ParseInt(vals["ask_size"], 10, 64)
	book.HasBid, _ = strconv.ParseBool(vals["has_bid"])
	book.HasAsk, _ = strconv.ParseBool(vals["has_ask"])
	book.Seq, _ = strconv.ParseUint(vals["seq"], 10, 64)
	if tsNano, err := strconv.ParseInt(vals["updated_at"], 10, 64); err == nil {
		book.UpdatedAt = time.Unix(0, tsNano)
	}

	return book, nil
}

var _ domain.BookMirror = (*BookMirror)(nil)
