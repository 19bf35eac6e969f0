package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cashplace/escrow/internal/escrow"
	"github.com/cashplace/escrow/internal/events"
	"github.com/cashplace/escrow/internal/service"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) Sweep(context.Context) escrow.SweepReport {
	s.calls.Add(1)
	return escrow.SweepReport{Visited: 1}
}

func TestSweeperWorkerTicksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sweeper := &countingSweeper{}

	done := StartSweeperWorker(ctx, sweeper, 5*time.Millisecond, zap.NewNop())
	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	stopped := sweeper.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, sweeper.calls.Load())
}

type collectingDeliverer struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *collectingDeliverer) Deliver(_ context.Context, e events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return nil
}

func (d *collectingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func TestNotificationWorkerDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := events.NewInMemoryDispatcher()
	sink := &collectingDeliverer{}
	svc := service.NewNotificationServiceWithDeliverer(dispatcher, zap.NewNop(), sink)

	done := StartNotificationWorker(ctx, svc)
	require.NoError(t, dispatcher.Publish(ctx, events.Event{Type: events.EventTicketCreated, TicketID: "t1"}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{Type: events.EventTicketDeleted, TicketID: "t1"}))

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestNotificationWorkerNil(t *testing.T) {
	done := StartNotificationWorker(context.Background(), nil)
	_, open := <-done
	assert.False(t, open)
}
