package postgres

import (
	"context"
	"log"

	"github.com/domuslabs/smart-home/assistant-core/internal/orchestrator"
)

// LoggingNotificationSender persists every notification to the household
// history before handing it to the delivery implementation. A history write
// failure is logged but does not block delivery.
type LoggingNotificationSender struct {
	store *Store
	next  orchestrator.NotificationSender
}

func NewLoggingNotificationSender(store *Store, next orchestrator.NotificationSender) *LoggingNotificationSender {
	return &LoggingNotificationSender{store: store, next: next}
}

func (s *LoggingNotificationSender) Send(ctx context.Context, n orchestrator.Notification) error {
	_, err := s.store.SaveNotification(ctx, NotificationRecord{
		HouseholdID: n.HouseholdID,
		Kind:        n.Kind,
		Title:       n.Title,
		Message:     n.Message,
		Severity:    n.Severity,
	})
	if err != nil {
		log.Printf(`{"level":"warn","component":"store","msg":"notification history write failed","household_id":"%s","error":"%s"}`, n.HouseholdID, err)
	}
	return s.next.Send(ctx, n)
}

var _ orchestrator.NotificationSender = (*LoggingNotificationSender)(nil)
