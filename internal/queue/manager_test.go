package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/queue"
)

func blockingStart(release <-chan struct{}) queue.StartFunc {
	return func(ctx context.Context, id uuid.UUID) error {
		<-release
		return nil
	}
}

func TestManager_RespectsMaxConcurrent(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	var mu sync.Mutex
	var concurrent, maxSeen int
	start := func(ctx context.Context, id uuid.UUID) error {
		mu.Lock()
		concurrent++
		if concurrent > maxSeen {
			maxSeen = concurrent
		}
		mu.Unlock()
		<-release
		mu.Lock()
		concurrent--
		mu.Unlock()
		return nil
	}

	m := queue.New(start, nil, nil)
	if err := m.CreateQueue(&common.Queue{ID: "q1", Enabled: true, MaxConcurrent: 2}); err != nil {
		t.Fatal(err)
	}
	m.Start(context.Background())
	defer m.Stop()

	for i := 0; i < 5; i++ {
		if err := m.Enqueue("q1", uuid.New()); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	got := maxSeen
	mu.Unlock()
	if got > 2 {
		t.Errorf("expected at most 2 concurrent downloads, saw %d", got)
	}
}

func TestManager_UniqueQueueMembership(t *testing.T) {
	start := blockingStart(make(chan struct{}))
	m := queue.New(start, nil, nil)
	_ = m.CreateQueue(&common.Queue{ID: "a", Enabled: true, MaxConcurrent: 1})
	_ = m.CreateQueue(&common.Queue{ID: "b", Enabled: true, MaxConcurrent: 1})

	id := uuid.New()
	if err := m.Enqueue("a", id); err != nil {
		t.Fatal(err)
	}
	if err := m.Enqueue("b", id); err != nil {
		t.Fatal(err)
	}

	// Re-enqueuing into "b" must have removed it from "a".
	for _, q := range m.ListQueues() {
		member := false
		for _, did := range q.DownloadIDs {
			if did == id {
				member = true
			}
		}
		if q.ID == "a" && member {
			t.Error("expected id to be removed from queue a")
		}
		if q.ID == "b" && !member {
			t.Error("expected id to be a member of queue b")
		}
	}
}

func TestManager_DisabledQueueDoesNotAdmit(t *testing.T) {
	var started bool
	var mu sync.Mutex
	start := func(ctx context.Context, id uuid.UUID) error {
		mu.Lock()
		started = true
		mu.Unlock()
		return nil
	}

	m := queue.New(start, nil, nil)
	_ = m.CreateQueue(&common.Queue{ID: "q1", Enabled: false, MaxConcurrent: 1})
	m.Start(context.Background())
	defer m.Stop()

	_ = m.Enqueue("q1", uuid.New())
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if started {
		t.Error("expected a disabled queue not to admit any download")
	}
}

func TestManager_CreateQueueRejectsDuplicateID(t *testing.T) {
	m := queue.New(blockingStart(make(chan struct{})), nil, nil)
	if err := m.CreateQueue(&common.Queue{ID: "q1"}); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateQueue(&common.Queue{ID: "q1"}); err == nil {
		t.Fatal("expected an error for a duplicate queue id")
	}
}
