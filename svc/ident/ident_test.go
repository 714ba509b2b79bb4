package ident_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pasteward/cfg"
	"pasteward/pkg/domain"
	"pasteward/svc/db"
	"pasteward/svc/ident"

	"github.com/alicebob/miniredis/v2"
	pkgerrors "github.com/pkg/errors"
)

var memdbSeq int64

func sqliteCounter(t *testing.T) ident.Counter {
	t.Helper()
	dsn := fmt.Sprintf("file:identtest%d?mode=memory&cache=shared", atomic.AddInt64(&memdbSeq, 1))
	s, err := db.NewSQLiteWithConfig(dsn, 1, 1, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func redisCounter(t *testing.T) ident.Counter {
	t.Helper()
	m := miniredis.RunT(t)
	r, err := db.NewRedis("redis://"+m.Addr(), &cfg.Cfg{RedisTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestNextConcurrentMonotonic(t *testing.T) {
	backends := map[string]func(*testing.T) ident.Counter{
		"sqlite": sqliteCounter,
		"redis":  redisCounter,
	}
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			a := ident.New(mk(t), db.PasteCounter)
			ctx := context.Background()
			prior, err := a.Next(ctx)
			if err != nil {
				t.Fatal(err)
			}
			const n = 64
			var wg sync.WaitGroup
			ids := make([]int64, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id, err := a.Next(ctx)
					if err != nil {
						t.Error(err)
						return
					}
					ids[i] = id
				}(i)
			}
			wg.Wait()
			seen := make(map[int64]bool, n)
			var maxID int64
			for _, id := range ids {
				if id <= prior {
					t.Errorf("id %d not greater than prior %d", id, prior)
				}
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
				maxID = max(maxID, id)
			}
			if maxID != prior+n {
				t.Errorf("max id = %d, want %d", maxID, prior+n)
			}
			if a.Last() != maxID {
				t.Errorf("Last() = %d, want %d", a.Last(), maxID)
			}
		})
	}
}

func TestFirstIDIsOne(t *testing.T) {
	a := ident.New(sqliteCounter(t), db.PasteCounter)
	id, err := a.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Errorf("first id = %d, want 1", id)
	}
}

type stubCounter struct {
	values []int64
	err    error
}

func (s *stubCounter) IncrementCounter(ctx context.Context, name string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	v := s.values[0]
	s.values = s.values[1:]
	return v, nil
}

func TestNextStorageFailure(t *testing.T) {
	a := ident.New(&stubCounter{err: errors.New("disk I/O error")}, db.PasteCounter)
	_, err := a.Next(context.Background())
	if pkgerrors.Cause(err) != domain.ErrStorageUnavailable {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
	if a.Last() != 0 {
		t.Errorf("failed allocation advanced Last() to %d", a.Last())
	}
}

func TestNextDetectsRegression(t *testing.T) {
	a := ident.New(&stubCounter{values: []int64{5, 5}}, db.PasteCounter)
	if _, err := a.Next(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Next(context.Background()); pkgerrors.Cause(err) != ident.ErrNotMonotonic {
		t.Errorf("expected ErrNotMonotonic, got %v", err)
	}
}
