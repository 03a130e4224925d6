package utils

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avorontsov/lenta/config"
)

// Redis-backed anti-abuse counters for the signup form. Everything here is
// fail-open: when redis is down, registration still works.

func signupKey(parts ...string) string {
	return "signup:" + strings.Join(parts, ":")
}

// SignupCooldownTry enforces a short cooldown between attempts per IP.
func SignupCooldownTry(ip string) bool {
	cfg := config.Get()
	sec := cfg.SignupAttemptCooldownSec
	if sec <= 0 {
		return true
	}
	cli := GetRedis()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	ok, err := cli.SetNX(ctx, signupKey("cooldown", ip), "1", time.Duration(sec)*time.Second).Result()
	if err != nil {
		return true
	}
	return ok
}

// SignupDailyLimitCheck allows up to N successful registrations per day per IP.
func SignupDailyLimitCheck(ip string) bool {
	cfg := config.Get()
	limit := cfg.SignupMaxPerIPPerDay
	if limit <= 0 {
		return true
	}
	cli := GetRedis()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	key := signupKey("succday", ip, time.Now().Format("20060102"))
	n, err := cli.Get(ctx, key).Int()
	if err == redis.Nil {
		n = 0
	} else if err != nil {
		return true
	}
	return n < limit
}

// SignupDailyIncrement increments the success counter for today.
func SignupDailyIncrement(ip string) {
	cli := GetRedis()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	key := signupKey("succday", ip, time.Now().Format("20060102"))
	if err := cli.Incr(ctx, key).Err(); err == nil {
		ttl := time.Until(time.Now().Truncate(24 * time.Hour).Add(24 * time.Hour))
		_ = cli.Expire(ctx, key, ttl).Err()
	}
}

// SignupFailRecord increments failure count per hour; returns current count.
func SignupFailRecord(ip string) int {
	cli := GetRedis()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	key := signupKey("failhour", ip, time.Now().Format("2006010215"))
	n, err := cli.Incr(ctx, key).Result()
	if err != nil {
		return 0
	}
	_ = cli.Expire(ctx, key, time.Hour).Err()
	return int(n)
}

// SignupIsBanned checks temporary ban status for IP.
func SignupIsBanned(ip string) bool {
	cli := GetRedis()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	exists, err := cli.Exists(ctx, signupKey("ban", ip)).Result()
	if err != nil {
		return false
	}
	return exists > 0
}

// SignupBan sets a temporary ban for IP.
func SignupBan(ip string) {
	cfg := config.Get()
	minutes := cfg.SignupTempBanMinutes
	if minutes <= 0 {
		minutes = 60
	}
	cli := GetRedis()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = cli.Set(ctx, signupKey("ban", ip), "1", time.Duration(minutes)*time.Minute).Err()
}
