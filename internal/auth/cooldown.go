package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OTPCooldown is the minimum time between two OTP requests for one identifier
const OTPCooldown = 30 * time.Second

func cooldownKey(identifier string) string {
	return "otp_rl:" + identifier
}

// Cooldown gates OTP requests per identifier with a marker key in Redis
type Cooldown struct {
	rdb    redis.Cmdable
	window time.Duration
}

// NewCooldown creates a cooldown gate using the fixed OTPCooldown window
func NewCooldown(rdb redis.Cmdable) *Cooldown {
	return &Cooldown{rdb: rdb, window: OTPCooldown}
}

// TryAcquire sets the marker if it is absent and reports whether it did.
// SET NX makes check-and-set a single step, so concurrent callers for the
// same identifier cannot both pass.
func (c *Cooldown) TryAcquire(ctx context.Context, identifier string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, cooldownKey(identifier), 1, c.window).Result()
	if err != nil {
		return false, fmt.Errorf("set cooldown marker: %w", err)
	}
	return ok, nil
}
