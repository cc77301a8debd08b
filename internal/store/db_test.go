package store

import (
	"testing"
	"time"
)

func TestPoolOptionsDefaults(t *testing.T) {
	opts := PoolOptions{}.withDefaults()
	if opts.MaxOpenConns != 16 || opts.MaxIdleConns != 8 {
		t.Fatalf("unexpected default conn limits: %+v", opts)
	}
	if opts.ConnMaxIdle != 5*time.Minute || opts.ConnLifetime != 30*time.Minute {
		t.Fatalf("unexpected default conn durations: %+v", opts)
	}
}

func TestPoolOptionsExplicitValuesKept(t *testing.T) {
	opts := PoolOptions{
		MaxOpenConns: 2,
		MaxIdleConns: 1,
		ConnMaxIdle:  time.Minute,
		ConnLifetime: 2 * time.Minute,
	}.withDefaults()
	if opts.MaxOpenConns != 2 || opts.MaxIdleConns != 1 {
		t.Fatalf("explicit conn limits overwritten: %+v", opts)
	}
	if opts.ConnMaxIdle != time.Minute || opts.ConnLifetime != 2*time.Minute {
		t.Fatalf("explicit conn durations overwritten: %+v", opts)
	}
}
