package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/selimacar/pushfanout/internal/domain"
	"github.com/selimacar/pushfanout/internal/expo"
	"github.com/selimacar/pushfanout/internal/ratelimit"
	"github.com/selimacar/pushfanout/internal/repository"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func TestSenderSendSuccess(t *testing.T) {
	t.Parallel()

	notification := &domain.Notification{
		ID:     "n1",
		Title:  "hello",
		Body:   "world",
		Status: domain.StatusSending,
	}

	var claimed bool
	var settledTo domain.Status
	notifications := &fakeNotificationRepo{
		markSendingFn: func(ctx context.Context, id string, sentAt time.Time) (bool, error) {
			claimed = true
			return true, nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return notification, nil
		},
		transitionFn: func(ctx context.Context, id string, to domain.Status) (bool, error) {
			settledTo = to
			return true, nil
		},
	}
	tokens := &fakeTokenRepo{
		listActiveFn: func(ctx context.Context) ([]domain.Token, error) {
			return []domain.Token{
				{ID: "t1", Value: "ExponentPushToken[aaa]", Active: true},
				{ID: "t2", Value: "ExponentPushToken[bbb]", Active: true},
			}, nil
		},
	}

	marked := map[string]string{}
	deliveries := &fakeDeliveryRepo{
		upsertPendingFn: func(ctx context.Context, notificationID string, tokenIDs []string) ([]domain.Delivery, error) {
			rows := make([]domain.Delivery, 0, len(tokenIDs))
			for _, tokenID := range tokenIDs {
				rows = append(rows, domain.Delivery{
					ID:             "d-" + tokenID,
					NotificationID: notificationID,
					TokenID:        tokenID,
					Status:         domain.DeliveryPendingSend,
				})
			}
			return rows, nil
		},
		markSentFn: func(ctx context.Context, id string, ticketID string) error {
			marked[id] = ticketID
			return nil
		},
	}

	gateway := &fakeGateway{
		sendMessagesFn: func(ctx context.Context, messages []expo.PushMessage) ([]expo.PushTicket, error) {
			if len(messages) != 2 {
				t.Fatalf("batch size = %d, want 2", len(messages))
			}
			if messages[0].Sound != "default" {
				t.Fatalf("sound = %q, want default", messages[0].Sound)
			}
			tickets := make([]expo.PushTicket, 0, len(messages))
			for i := range messages {
				tickets = append(tickets, expo.PushTicket{Status: "ok", ID: fmt.Sprintf("ticket-%d", i)})
			}
			return tickets, nil
		},
	}

	sender := newTestSender(t, notifications, tokens, deliveries, gateway, &fakeRateLimiter{}, 100)

	if err := sender.Send(context.Background(), "n1"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if !claimed {
		t.Fatal("notification should be claimed for sending")
	}
	if len(marked) != 2 {
		t.Fatalf("marked sent = %d deliveries, want 2", len(marked))
	}
	if marked["d-t1"] != "ticket-0" || marked["d-t2"] != "ticket-1" {
		t.Fatalf("tickets not order-correlated: %v", marked)
	}
	if settledTo != domain.StatusSent {
		t.Fatalf("final status = %s, want %s", settledTo, domain.StatusSent)
	}
}

func TestSenderSendSkipsWhenNotClaimable(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{
		markSendingFn: func(ctx context.Context, id string, sentAt time.Time) (bool, error) {
			return false, nil
		},
	}

	gatewayCalled := false
	gateway := &fakeGateway{
		sendMessagesFn: func(ctx context.Context, messages []expo.PushMessage) ([]expo.PushTicket, error) {
			gatewayCalled = true
			return nil, nil
		},
	}

	sender := newTestSender(t, notifications, &fakeTokenRepo{}, &fakeDeliveryRepo{}, gateway, &fakeRateLimiter{}, 100)

	if err := sender.Send(context.Background(), "n1"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gatewayCalled {
		t.Fatal("gateway should not be called for an unclaimable notification")
	}
}

func TestSenderSendNoActiveTokens(t *testing.T) {
	t.Parallel()

	var settledTo domain.Status
	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, Title: "t", Body: "b", Status: domain.StatusSending}, nil
		},
		transitionFn: func(ctx context.Context, id string, to domain.Status) (bool, error) {
			settledTo = to
			return true, nil
		},
	}
	tokens := &fakeTokenRepo{
		listActiveFn: func(ctx context.Context) ([]domain.Token, error) {
			return nil, nil
		},
	}

	gatewayCalled := false
	gateway := &fakeGateway{
		sendMessagesFn: func(ctx context.Context, messages []expo.PushMessage) ([]expo.PushTicket, error) {
			gatewayCalled = true
			return nil, nil
		},
	}

	sender := newTestSender(t, notifications, tokens, &fakeDeliveryRepo{}, gateway, &fakeRateLimiter{}, 100)

	if err := sender.Send(context.Background(), "n1"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gatewayCalled {
		t.Fatal("gateway should not be called without recipients")
	}
	if settledTo != domain.StatusFailed {
		t.Fatalf("final status = %s, want %s", settledTo, domain.StatusFailed)
	}
}

func TestSenderSendTicketErrorCompletesWithErrors(t *testing.T) {
	t.Parallel()

	var settledTo domain.Status
	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, Title: "t", Body: "b", Status: domain.StatusSending}, nil
		},
		transitionFn: func(ctx context.Context, id string, to domain.Status) (bool, error) {
			settledTo = to
			return true, nil
		},
	}
	tokens := &fakeTokenRepo{
		listActiveFn: func(ctx context.Context) ([]domain.Token, error) {
			return []domain.Token{
				{ID: "t1", Value: "ExponentPushToken[aaa]", Active: true},
				{ID: "t2", Value: "ExponentPushToken[bbb]", Active: true},
			}, nil
		},
	}

	var sentIDs []string
	var erroredIDs []string
	deliveries := &fakeDeliveryRepo{
		upsertPendingFn: func(ctx context.Context, notificationID string, tokenIDs []string) ([]domain.Delivery, error) {
			rows := make([]domain.Delivery, 0, len(tokenIDs))
			for _, tokenID := range tokenIDs {
				rows = append(rows, domain.Delivery{
					ID:             "d-" + tokenID,
					NotificationID: notificationID,
					TokenID:        tokenID,
					Status:         domain.DeliveryPendingSend,
				})
			}
			return rows, nil
		},
		markSentFn: func(ctx context.Context, id string, ticketID string) error {
			sentIDs = append(sentIDs, id)
			return nil
		},
		markSendErrorFn: func(ctx context.Context, ids []string, details datatypes.JSON) (int64, error) {
			erroredIDs = append(erroredIDs, ids...)
			return int64(len(ids)), nil
		},
	}

	gateway := &fakeGateway{
		sendMessagesFn: func(ctx context.Context, messages []expo.PushMessage) ([]expo.PushTicket, error) {
			return []expo.PushTicket{
				{Status: "ok", ID: "ticket-1"},
				{
					Status:  "error",
					Message: "device is gone",
					Details: map[string]any{"error": expo.ErrorDeviceNotRegistered},
				},
			}, nil
		},
	}

	sender := newTestSender(t, notifications, tokens, deliveries, gateway, &fakeRateLimiter{}, 100)

	if err := sender.Send(context.Background(), "n1"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(sentIDs) != 1 || sentIDs[0] != "d-t1" {
		t.Fatalf("sent ids = %v, want [d-t1]", sentIDs)
	}
	if len(erroredIDs) != 1 || erroredIDs[0] != "d-t2" {
		t.Fatalf("errored ids = %v, want [d-t2]", erroredIDs)
	}
	if settledTo != domain.StatusCompletedWithErrors {
		t.Fatalf("final status = %s, want %s", settledTo, domain.StatusCompletedWithErrors)
	}
}

func TestSenderSendBatchFailureMarksFailed(t *testing.T) {
	t.Parallel()

	var settledTo domain.Status
	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, Title: "t", Body: "b", Status: domain.StatusSending}, nil
		},
		transitionFn: func(ctx context.Context, id string, to domain.Status) (bool, error) {
			settledTo = to
			return true, nil
		},
	}
	tokens := &fakeTokenRepo{
		listActiveFn: func(ctx context.Context) ([]domain.Token, error) {
			return []domain.Token{{ID: "t1", Value: "ExponentPushToken[aaa]", Active: true}}, nil
		},
	}

	var erroredIDs []string
	deliveries := &fakeDeliveryRepo{
		upsertPendingFn: func(ctx context.Context, notificationID string, tokenIDs []string) ([]domain.Delivery, error) {
			return []domain.Delivery{{
				ID:             "d-t1",
				NotificationID: notificationID,
				TokenID:        "t1",
				Status:         domain.DeliveryPendingSend,
			}}, nil
		},
		markSendErrorFn: func(ctx context.Context, ids []string, details datatypes.JSON) (int64, error) {
			erroredIDs = append(erroredIDs, ids...)
			return int64(len(ids)), nil
		},
	}

	gateway := &fakeGateway{
		sendMessagesFn: func(ctx context.Context, messages []expo.PushMessage) ([]expo.PushTicket, error) {
			return nil, &expo.GatewayError{Kind: expo.FailureServer, StatusCode: 502, Message: "bad gateway"}
		},
	}

	sender := newTestSender(t, notifications, tokens, deliveries, gateway, &fakeRateLimiter{}, 100)

	if err := sender.Send(context.Background(), "n1"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(erroredIDs) != 1 || erroredIDs[0] != "d-t1" {
		t.Fatalf("errored ids = %v, want [d-t1]", erroredIDs)
	}
	if settledTo != domain.StatusFailed {
		t.Fatalf("final status = %s, want %s", settledTo, domain.StatusFailed)
	}
}

func TestSenderSendSkipsConfirmedDeliveries(t *testing.T) {
	t.Parallel()

	var settledTo domain.Status
	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, Title: "t", Body: "b", Status: domain.StatusSending}, nil
		},
		transitionFn: func(ctx context.Context, id string, to domain.Status) (bool, error) {
			settledTo = to
			return true, nil
		},
	}
	tokens := &fakeTokenRepo{
		listActiveFn: func(ctx context.Context) ([]domain.Token, error) {
			return []domain.Token{
				{ID: "t1", Value: "ExponentPushToken[aaa]", Active: true},
				{ID: "t2", Value: "ExponentPushToken[bbb]", Active: true},
			}, nil
		},
	}
	deliveries := &fakeDeliveryRepo{
		upsertPendingFn: func(ctx context.Context, notificationID string, tokenIDs []string) ([]domain.Delivery, error) {
			ticket := "old-ticket"
			return []domain.Delivery{
				{ID: "d-t1", NotificationID: notificationID, TokenID: "t1", Status: domain.DeliveryReceiptOK, PushTicketID: &ticket},
				{ID: "d-t2", NotificationID: notificationID, TokenID: "t2", Status: domain.DeliveryPendingSend},
			}, nil
		},
	}

	var gotBatch []expo.PushMessage
	gateway := &fakeGateway{
		sendMessagesFn: func(ctx context.Context, messages []expo.PushMessage) ([]expo.PushTicket, error) {
			gotBatch = messages
			return []expo.PushTicket{{Status: "ok", ID: "ticket-1"}}, nil
		},
	}

	sender := newTestSender(t, notifications, tokens, deliveries, gateway, &fakeRateLimiter{}, 100)

	if err := sender.Send(context.Background(), "n1"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(gotBatch) != 1 {
		t.Fatalf("batch size = %d, want 1 (confirmed row must be skipped)", len(gotBatch))
	}
	if gotBatch[0].To != "ExponentPushToken[bbb]" {
		t.Fatalf("batch recipient = %q, want the unconfirmed token", gotBatch[0].To)
	}
	if settledTo != domain.StatusSent {
		t.Fatalf("final status = %s, want %s", settledTo, domain.StatusSent)
	}
}

func TestSenderSendSplitsOversizedFanout(t *testing.T) {
	t.Parallel()

	const recipients = 250

	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, Title: "t", Body: "b", Status: domain.StatusSending}, nil
		},
	}
	tokens := &fakeTokenRepo{
		listActiveFn: func(ctx context.Context) ([]domain.Token, error) {
			rows := make([]domain.Token, 0, recipients)
			for i := 0; i < recipients; i++ {
				rows = append(rows, domain.Token{
					ID:     fmt.Sprintf("t%d", i),
					Value:  fmt.Sprintf("ExponentPushToken[%d]", i),
					Active: true,
				})
			}
			return rows, nil
		},
	}
	deliveries := &fakeDeliveryRepo{
		upsertPendingFn: func(ctx context.Context, notificationID string, tokenIDs []string) ([]domain.Delivery, error) {
			rows := make([]domain.Delivery, 0, len(tokenIDs))
			for _, tokenID := range tokenIDs {
				rows = append(rows, domain.Delivery{
					ID:             "d-" + tokenID,
					NotificationID: notificationID,
					TokenID:        tokenID,
					Status:         domain.DeliveryPendingSend,
				})
			}
			return rows, nil
		},
	}

	var batchSizes []int
	gateway := &fakeGateway{
		sendMessagesFn: func(ctx context.Context, messages []expo.PushMessage) ([]expo.PushTicket, error) {
			batchSizes = append(batchSizes, len(messages))
			tickets := make([]expo.PushTicket, 0, len(messages))
			for i := range messages {
				tickets = append(tickets, expo.PushTicket{Status: "ok", ID: fmt.Sprintf("ticket-%d-%d", len(batchSizes), i)})
			}
			return tickets, nil
		},
	}

	waits := 0
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, operation string) error {
			if operation != "send" {
				t.Fatalf("operation = %q, want send", operation)
			}
			waits++
			return nil
		},
	}

	sender := newTestSender(t, notifications, tokens, deliveries, gateway, limiter, 100)

	if err := sender.Send(context.Background(), "n1"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	want := []int{100, 100, 50}
	if len(batchSizes) != len(want) {
		t.Fatalf("gateway calls = %d, want %d", len(batchSizes), len(want))
	}
	for i := range want {
		if batchSizes[i] != want[i] {
			t.Fatalf("batch %d size = %d, want %d", i, batchSizes[i], want[i])
		}
	}
	if waits != 3 {
		t.Fatalf("rate limiter waits = %d, want 3", waits)
	}
}

func newTestSender(
	t *testing.T,
	notifications repository.NotificationRepository,
	tokens repository.TokenRepository,
	deliveries repository.DeliveryRepository,
	gateway expo.Gateway,
	limiter ratelimit.RateLimiter,
	batchSize int,
) *Sender {
	t.Helper()

	sender, err := NewSender(notifications, tokens, deliveries, gateway, limiter, batchSize, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSender() error = %v", err)
	}
	sender.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return sender
}

type fakeTokenRepo struct {
	upsertFn     func(ctx context.Context, value string) (*domain.Token, bool, error)
	getByIDFn    func(ctx context.Context, id string) (*domain.Token, error)
	listActiveFn func(ctx context.Context) ([]domain.Token, error)
	deactivateFn func(ctx context.Context, id string) (bool, error)
}

func (f *fakeTokenRepo) Upsert(ctx context.Context, value string) (*domain.Token, bool, error) {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, value)
	}
	return &domain.Token{ID: "t1", Value: value, Active: true}, true, nil
}

func (f *fakeTokenRepo) GetByID(ctx context.Context, id string) (*domain.Token, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTokenRepo) ListActive(ctx context.Context) ([]domain.Token, error) {
	if f.listActiveFn != nil {
		return f.listActiveFn(ctx)
	}
	return nil, nil
}

func (f *fakeTokenRepo) Deactivate(ctx context.Context, id string) (bool, error) {
	if f.deactivateFn != nil {
		return f.deactivateFn(ctx, id)
	}
	return true, nil
}

var _ repository.TokenRepository = (*fakeTokenRepo)(nil)

type fakeDeliveryRepo struct {
	upsertPendingFn       func(ctx context.Context, notificationID string, tokenIDs []string) ([]domain.Delivery, error)
	getByIDsFn            func(ctx context.Context, ids []string) ([]domain.Delivery, error)
	listByNotificationFn  func(ctx context.Context, notificationID string) ([]domain.Delivery, error)
	markSentFn            func(ctx context.Context, id string, ticketID string) error
	markSendErrorFn       func(ctx context.Context, ids []string, details datatypes.JSON) (int64, error)
	recordReceiptFn       func(ctx context.Context, id string, status domain.DeliveryStatus, receiptStatus *string, details datatypes.JSON, checkedAt time.Time) error
	markReceiptPendingFn  func(ctx context.Context, ids []string) (int64, error)
	findDueReceiptChecks  func(ctx context.Context, oldest time.Time, latest time.Time, limit int) ([]string, error)
	countByStatusFn       func(ctx context.Context, notificationID string) ([]repository.DeliveryStatusCount, error)
}

func (f *fakeDeliveryRepo) UpsertPending(ctx context.Context, notificationID string, tokenIDs []string) ([]domain.Delivery, error) {
	if f.upsertPendingFn != nil {
		return f.upsertPendingFn(ctx, notificationID, tokenIDs)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.Delivery, error) {
	if f.getByIDsFn != nil {
		return f.getByIDsFn(ctx, ids)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.Delivery, error) {
	if f.listByNotificationFn != nil {
		return f.listByNotificationFn(ctx, notificationID)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) MarkSent(ctx context.Context, id string, ticketID string) error {
	if f.markSentFn != nil {
		return f.markSentFn(ctx, id, ticketID)
	}
	return nil
}

func (f *fakeDeliveryRepo) MarkSendError(ctx context.Context, ids []string, details datatypes.JSON) (int64, error) {
	if f.markSendErrorFn != nil {
		return f.markSendErrorFn(ctx, ids, details)
	}
	return int64(len(ids)), nil
}

func (f *fakeDeliveryRepo) RecordReceipt(ctx context.Context, id string, status domain.DeliveryStatus, receiptStatus *string, details datatypes.JSON, checkedAt time.Time) error {
	if f.recordReceiptFn != nil {
		return f.recordReceiptFn(ctx, id, status, receiptStatus, details, checkedAt)
	}
	return nil
}

func (f *fakeDeliveryRepo) MarkReceiptPending(ctx context.Context, ids []string) (int64, error) {
	if f.markReceiptPendingFn != nil {
		return f.markReceiptPendingFn(ctx, ids)
	}
	return int64(len(ids)), nil
}

func (f *fakeDeliveryRepo) FindDueReceiptChecks(ctx context.Context, oldest time.Time, latest time.Time, limit int) ([]string, error) {
	if f.findDueReceiptChecks != nil {
		return f.findDueReceiptChecks(ctx, oldest, latest, limit)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) CountByStatus(ctx context.Context, notificationID string) ([]repository.DeliveryStatusCount, error) {
	if f.countByStatusFn != nil {
		return f.countByStatusFn(ctx, notificationID)
	}
	return nil, nil
}

var _ repository.DeliveryRepository = (*fakeDeliveryRepo)(nil)

type fakeGateway struct {
	sendMessagesFn func(ctx context.Context, messages []expo.PushMessage) ([]expo.PushTicket, error)
	getReceiptsFn  func(ctx context.Context, ticketIDs []string) (map[string]expo.PushReceipt, error)
}

func (f *fakeGateway) SendMessages(ctx context.Context, messages []expo.PushMessage) ([]expo.PushTicket, error) {
	if f.sendMessagesFn != nil {
		return f.sendMessagesFn(ctx, messages)
	}
	return nil, nil
}

func (f *fakeGateway) GetReceipts(ctx context.Context, ticketIDs []string) (map[string]expo.PushReceipt, error) {
	if f.getReceiptsFn != nil {
		return f.getReceiptsFn(ctx, ticketIDs)
	}
	return map[string]expo.PushReceipt{}, nil
}

var _ expo.Gateway = (*fakeGateway)(nil)

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, operation string) (bool, error)
	waitFn  func(ctx context.Context, operation string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, operation string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, operation)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, operation string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, operation)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

func TestSenderSendValidatesInput(t *testing.T) {
	t.Parallel()

	sender := newTestSender(t, &fakeNotificationRepo{}, &fakeTokenRepo{}, &fakeDeliveryRepo{}, &fakeGateway{}, &fakeRateLimiter{}, 100)

	err := sender.Send(context.Background(), "   ")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Send() error = %v, want %v", err, domain.ErrValidation)
	}
}
