package health

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry_AllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("store", func(ctx context.Context) Status {
		return Status{Name: "store", Healthy: true}
	})
	r.Register("gateway", func(ctx context.Context) Status {
		return Status{Name: "gateway", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("expected healthy aggregate")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestRegistry_OneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("store", func(ctx context.Context) Status {
		return Status{Name: "store", Healthy: true}
	})
	r.Register("gateway", func(ctx context.Context) Status {
		return Status{Name: "gateway", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Error("expected unhealthy aggregate")
	}
	if statuses[1].Detail != "connection refused" {
		t.Errorf("unexpected detail: %q", statuses[1].Detail)
	}
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(ctx context.Context) error { return f.err }

func TestDBChecker(t *testing.T) {
	ok := DBChecker("postgres", fakePinger{})(context.Background())
	if !ok.Healthy {
		t.Error("expected healthy db status")
	}

	bad := DBChecker("postgres", fakePinger{err: errors.New("down")})(context.Background())
	if bad.Healthy {
		t.Error("expected unhealthy db status")
	}
	if bad.Detail != "down" {
		t.Errorf("unexpected detail %q", bad.Detail)
	}
}

func TestRegistry_Empty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("empty registry should report healthy")
	}
	if len(statuses) != 0 {
		t.Errorf("expected no statuses, got %d", len(statuses))
	}
}
