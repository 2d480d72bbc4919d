// Package presence tracks who is connected to each support room and which
// customers wrote most recently. State lives in Redis so every gateway and
// the API share it.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recentKey = "support:recent"
	namesKey  = "support:names"
)

// leaveScript drops one socket from a user's count and removes the user
// once none are left.
var leaveScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call("HDEL", KEYS[1], ARGV[1])
end
return n
`)

// roomKey names the hash of user id -> open socket count for a room.
func roomKey(customerID int64) string {
	return "support:room:" + strconv.FormatInt(customerID, 10) + ":users"
}

// Customer is one row of the staff "recent customers" list.
type Customer struct {
	UserID   int64
	Username string
	LastTime time.Time
	Online   bool
}

type Tracker struct {
	rdb redis.Cmdable
}

func New(rdb redis.Cmdable) *Tracker {
	return &Tracker{rdb: rdb}
}

// Join records that userID opened one more socket in the customer's room.
func (t *Tracker) Join(ctx context.Context, customerID int64, userID string) error {
	if err := t.rdb.HIncrBy(ctx, roomKey(customerID), userID, 1).Err(); err != nil {
		return fmt.Errorf("join room %d: %w", customerID, err)
	}
	return nil
}

// Leave records that one of userID's sockets closed. The user stays a
// member while any socket is open.
func (t *Tracker) Leave(ctx context.Context, customerID int64, userID string) error {
	if err := leaveScript.Run(ctx, t.rdb, []string{roomKey(customerID)}, userID).Err(); err != nil {
		return fmt.Errorf("leave room %d: %w", customerID, err)
	}
	return nil
}

// Members lists the user ids connected to a room.
func (t *Tracker) Members(ctx context.Context, customerID int64) ([]string, error) {
	users, err := t.rdb.HKeys(ctx, roomKey(customerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("room members %d: %w", customerID, err)
	}
	return users, nil
}

// Touch moves a customer to the top of the recent list.
func (t *Tracker) Touch(ctx context.Context, customerID int64, username string, at time.Time) error {
	_, err := t.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, recentKey, redis.Z{Score: float64(at.UnixMilli()), Member: customerID})
		if username != "" {
			p.HSet(ctx, namesKey, customerID, username)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("touch customer %d: %w", customerID, err)
	}
	return nil
}

// Recent returns up to limit customers, most recently active first. A
// customer is online when they have a socket in their own room.
func (t *Tracker) Recent(ctx context.Context, limit int) ([]Customer, error) {
	zs, err := t.rdb.ZRevRangeWithScores(ctx, recentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("recent customers: %w", err)
	}
	if len(zs) == 0 {
		return []Customer{}, nil
	}

	out := make([]Customer, 0, len(zs))
	fields := make([]string, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Customer{UserID: id, LastTime: time.UnixMilli(int64(z.Score)).UTC()})
		fields = append(fields, member)
	}
	if len(out) == 0 {
		return out, nil
	}

	names, err := t.rdb.HMGet(ctx, namesKey, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("customer names: %w", err)
	}
	pipe := t.rdb.Pipeline()
	online := make([]*redis.BoolCmd, len(out))
	for i, c := range out {
		online[i] = pipe.HExists(ctx, roomKey(c.UserID), fields[i])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("customer status: %w", err)
	}

	for i := range out {
		if s, ok := names[i].(string); ok {
			out[i].Username = s
		}
		out[i].Online = online[i].Val()
	}
	return out, nil
}
