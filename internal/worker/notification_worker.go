package worker

import (
	"context"

	"github.com/cashplace/escrow/internal/service"
)

// StartNotificationWorker registers notification handlers and delivers
// queued events in the background until ctx is done. The returned channel
// is closed once delivery has stopped.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService) <-chan struct{} {
	done := make(chan struct{})
	if notificationService == nil {
		close(done)
		return done
	}
	notificationService.RegisterHandlers()
	go func() {
		defer close(done)
		notificationService.Run(ctx)
	}()
	return done
}
