package lock

import (
	"context"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	tests := []struct {
		store  string
		region string
		want   string
	}{
		{store: "lightsail", region: "eu-west-1", want: "snaprotate:lock:lightsail:eu-west-1"},
		{store: "http", region: "", want: "snaprotate:lock:http:default"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Key(tt.store, tt.region); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var l Locker = Noop{}

	first, err := l.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	second, err := l.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if err := first.Release(ctx); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if err := second.Release(ctx); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestNewRedis_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		addr string
		db   int
	}{
		{name: "empty addr", addr: "", db: 0},
		{name: "negative db", addr: "localhost:6379", db: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRedis(tt.addr, "", tt.db); err == nil {
				t.Error("expected error")
			}
		})
	}
}
