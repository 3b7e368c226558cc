package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"birthday_bot/devicepool"
)

func TestNew_RejectsInvalidMax(t *testing.T) {
	for _, max := range []int{0, -1} {
		if _, err := New(max, nil); !errors.Is(err, ErrInvalidMaxQueueSize) {
			t.Errorf("New(%d) error = %v, want ErrInvalidMaxQueueSize", max, err)
		}
	}
}

func TestAdmit_Boundary(t *testing.T) {
	tests := []struct {
		name    string
		backlog int
		max     int
		wantErr bool
	}{
		{"empty", 0, 10, false},
		{"one below limit", 9, 10, false},
		{"exactly at limit", 10, 10, true},
		{"above limit", 11, 10, true},
		{"limit of one, empty", 0, 1, false},
		{"limit of one, one waiting", 1, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backlog := tt.backlog
			c, err := New(tt.max, []BacklogSource{BacklogFunc(func() int { return backlog })})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			err = c.Admit()
			if tt.wantErr && !errors.Is(err, ErrAllDevicesBusy) {
				t.Errorf("Admit() error = %v, want ErrAllDevicesBusy", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Admit() error = %v, want nil", err)
			}
		})
	}
}

func TestAdmit_SumsSourcesAndCounts(t *testing.T) {
	var hooked []int
	c, err := New(3,
		[]BacklogSource{BacklogFunc(func() int { return 1 }), BacklogFunc(func() int { return 2 })},
		WithRejectHook(func(b int) { hooked = append(hooked, b) }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Admit(); !errors.Is(err, ErrAllDevicesBusy) {
		t.Fatalf("Admit() error = %v, want busy", err)
	}

	st := c.Stats()
	if st.Backlog != 3 || st.Rejected != 1 || st.Admitted != 0 || st.MaxQueueSize != 3 {
		t.Errorf("Stats() = %+v", st)
	}
	if len(hooked) != 1 || hooked[0] != 3 {
		t.Errorf("reject hook calls = %v, want [3]", hooked)
	}
}

func TestAdmit_WithDevicePoolBacklog(t *testing.T) {
	pool, err := devicepool.New(devicepool.Config[string]{
		DeviceIDs: []string{"cuda:0"},
		Load:      func(ctx context.Context, id string) (string, error) { return id, nil },
	})
	if err != nil {
		t.Fatalf("devicepool.New() error = %v", err)
	}
	defer pool.Close()

	c, err := New(1, []BacklogSource{pool})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := c.Admit(); err != nil {
		t.Fatalf("Admit() with no waiters = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if l, err := pool.Acquire(ctx); err == nil {
			l.Release()
		}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for pool.Backlog() != 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	if err := c.Admit(); !errors.Is(err, ErrAllDevicesBusy) {
		t.Errorf("Admit() with one waiter = %v, want ErrAllDevicesBusy", err)
	}
	held.Release()
}
