package listener

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"networth/internal/domain/account"
	"networth/internal/infrastructure/postgres"
)

const (
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
	refreshTimeout    = 30 * time.Second
)

// ManualAccountNotification represents the payload from PostgreSQL NOTIFY
type ManualAccountNotification struct {
	UserID string `json:"user_id"`
}

// AccountCache is the part of the coordinator the listener refreshes.
type AccountCache interface {
	Cached(userID string) (*account.Snapshot, bool)
	Aggregate(ctx context.Context, userID string) (*account.Snapshot, error)
}

// ManualAccountListener re-aggregates a user's accounts when their manual
// accounts change, so cached readers see the change without waiting for
// the next scheduled refresh.
type ManualAccountListener struct {
	connStr    string
	cache      AccountCache
	logger     *zap.Logger
	shutdownCh chan struct{}
	done       chan struct{}
}

// NewManualAccountListener creates a new listener for manual account changes
func NewManualAccountListener(connStr string, cache AccountCache, logger *zap.Logger) *ManualAccountListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManualAccountListener{
		connStr:    connStr,
		cache:      cache,
		logger:     logger.With(zap.String("channel", postgres.ManualAccountChannel)),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening for notifications in a background goroutine
func (l *ManualAccountListener) Start(ctx context.Context) {
	go l.listen(ctx)
	l.logger.Info("Manual account listener started")
}

// Stop gracefully shuts down the listener
func (l *ManualAccountListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	l.logger.Info("Manual account listener stopped")
}

func (l *ManualAccountListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		// Wait before reconnecting
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			l.logger.Info("Reconnecting to PostgreSQL for notifications")
		}
	}
}

func (l *ManualAccountListener) connectAndListen(ctx context.Context) {
	// Create a dedicated listener connection
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			l.logger.Info("Connected to PostgreSQL notification channel")
		case pq.ListenerEventDisconnected:
			l.logger.Warn("Disconnected from PostgreSQL notification channel", zap.Error(err))
		case pq.ListenerEventReconnected:
			l.logger.Info("Reconnected to PostgreSQL notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			l.logger.Warn("Notification connection attempt failed", zap.Error(err))
		}
	})
	defer listener.Close()

	if err := listener.Listen(postgres.ManualAccountChannel); err != nil {
		l.logger.Error("Failed to listen on channel", zap.Error(err))
		return
	}

	l.logger.Info("Listening for manual account changes")

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case notification := <-listener.Notify:
			if notification == nil {
				// pq re-established the connection; notifications may have been missed
				l.logger.Warn("Notification connection was reset")
				continue
			}
			l.handleNotification(notification.Extra)
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				l.logger.Warn("Listener ping failed", zap.Error(err))
				return
			}
		}
	}
}

// handleNotification refreshes the named user if it has a cached snapshot.
// It reports whether a refresh was started.
func (l *ManualAccountListener) handleNotification(extra string) bool {
	var payload ManualAccountNotification
	if err := json.Unmarshal([]byte(extra), &payload); err != nil {
		l.logger.Warn("Failed to parse notification payload", zap.Error(err))
		return false
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		l.logger.Warn("Notification without user_id")
		return false
	}

	if _, ok := l.cache.Cached(userID); !ok {
		l.logger.Debug("Ignoring change for user without cached accounts", zap.String("user_id", userID))
		return false
	}

	// Use background context since the listener context may be cancelled during shutdown
	go l.refresh(userID)
	return true
}

func (l *ManualAccountListener) refresh(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	snap, err := l.cache.Aggregate(ctx, userID)
	if err != nil {
		l.logger.Error("Failed to refresh accounts after manual change", zap.String("user_id", userID), zap.Error(err))
		return
	}

	l.logger.Debug("Accounts refreshed after manual change",
		zap.String("user_id", userID),
		zap.Int("accounts", len(snap.Accounts)))
}
