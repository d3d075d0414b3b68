package health

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("audit_store", func(_ context.Context) Status {
		return Status{Name: "audit_store", Healthy: true}
	})
	r.Register("review_store", func(_ context.Context) Status {
		return Status{Name: "review_store", Healthy: true, Detail: "ok"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("db", func(_ context.Context) Status {
		return Status{Name: "db", Healthy: true}
	})
	r.Register("cache", func(_ context.Context) Status {
		return Status{Name: "cache", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Detail != "connection refused" {
		t.Fatalf("expected detail 'connection refused', got %q", statuses[1].Detail)
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	// Register concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}(i)
	}

	// Check concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}

func TestRegistryTimeoutBoundsSlowCheck(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	r.Register("authority", func(ctx context.Context) Status {
		<-ctx.Done()
		return Status{Healthy: false, Detail: ctx.Err().Error()}
	})

	start := time.Now()
	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("timed-out check should be unhealthy")
	}
	if time.Since(start) > time.Second {
		t.Fatal("CheckAll did not honor the per-check timeout")
	}
	if statuses[0].Name != "authority" {
		t.Fatalf("expected registry to fill in the name, got %q", statuses[0].Name)
	}
}

func TestRegistryPanickingCheck(t *testing.T) {
	r := NewRegistry()
	r.Register("notifier", func(_ context.Context) Status { panic("boom") })

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("panicking check should be unhealthy")
	}
	if !strings.Contains(statuses[0].Detail, "panicked") {
		t.Fatalf("unexpected detail %q", statuses[0].Detail)
	}
}

func TestDatabaseCheckerUnreachable(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := Database(db)(context.Background())
	if s.Healthy || s.Name != "database" {
		t.Fatalf("expected unhealthy database status, got %+v", s)
	}
}

func TestRedisCheckerUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	s := Redis(client)(context.Background())
	if s.Healthy || s.Name != "redis" {
		t.Fatalf("expected unhealthy redis status, got %+v", s)
	}
}
