package services

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cutline/agent/internal/store"
)

// ChangeNotification is the payload the caption service pushes to
// subscribed agents when records change
type ChangeNotification struct {
	SubscriptionID string `json:"subscriptionId"`
}

// NotificationService listens on the caption service's notification socket
// and requests a pull when a notification for our subscription arrives
type NotificationService struct {
	url    string
	store  *store.Store
	engine Syncer

	reconnectMin time.Duration
	reconnectMax time.Duration
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(url string, recordStore *store.Store, engine Syncer) *NotificationService {
	return &NotificationService{
		url:          url,
		store:        recordStore,
		engine:       engine,
		reconnectMin: time.Second,
		reconnectMax: time.Minute,
	}
}

// Run maintains the notification connection until the context is
// cancelled, reconnecting with backoff on failure
func (s *NotificationService) Run(ctx context.Context) {
	delay := s.reconnectMin

	for {
		if err := s.listen(ctx); err != nil {
			log.Printf("Notification connection lost: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.reconnectMax {
			delay = s.reconnectMax
		}
	}
}

func (s *NotificationService) listen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("Connected to notification socket: %s", s.url)

	// Close the connection when the context ends so ReadJSON unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var notification ChangeNotification
		if err := conn.ReadJSON(&notification); err != nil {
			return err
		}
		s.handle(ctx, notification)
	}
}

// handle requests a pull only when the notification matches our persisted
// subscription; anything else on the socket is not for this agent
func (s *NotificationService) handle(ctx context.Context, notification ChangeNotification) {
	subscriptionID, err := s.store.SubscriptionID(ctx)
	if err != nil {
		log.Printf("Error reading subscription ID: %v", err)
		return
	}

	if subscriptionID == "" || notification.SubscriptionID != subscriptionID {
		return
	}
	s.engine.RequestSync()
}
