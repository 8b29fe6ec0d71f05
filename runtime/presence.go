package runtime

import (
	"context"
	"log/slog"
	"time"

	"chat-core/domain/event"
	"chat-core/repositories"
)

// PresenceBroadcaster reacts to registry transition edges. Only the 0->1
// and 1->0 connection edges emit a global presence change; intermediate
// device churn stays silent.
type PresenceBroadcaster struct {
	registry *SessionRegistry
	users    repositories.IUserRepository
	log      *slog.Logger
}

func NewPresenceBroadcaster(registry *SessionRegistry, users repositories.IUserRepository, log *slog.Logger) *PresenceBroadcaster {
	return &PresenceBroadcaster{registry: registry, users: users, log: log}
}

// UserOnline persists the online flag and broadcasts the change to every
// connected peer. The durable write is best-effort: presence truth lives in
// the registry while the process is alive, so a storage hiccup is logged
// and the broadcast still goes out.
func (p *PresenceBroadcaster) UserOnline(ctx context.Context, userID string) {
	p.transition(ctx, userID, true)
}

// UserOffline mirrors the 1->0 edge.
func (p *PresenceBroadcaster) UserOffline(ctx context.Context, userID string) {
	p.transition(ctx, userID, false)
}

// SetStatus applies a manual status update requested by the user and
// broadcasts it like a transition edge.
func (p *PresenceBroadcaster) SetStatus(ctx context.Context, userID string, online bool) {
	p.transition(ctx, userID, online)
}

// Snapshot builds the reply for a get_online_users query.
func (p *PresenceBroadcaster) Snapshot(userIDs []string) event.OnlineUsersStatus {
	return event.OnlineUsersStatus{Statuses: p.registry.OnlineStatus(userIDs)}
}

func (p *PresenceBroadcaster) transition(ctx context.Context, userID string, online bool) {
	lastSeen := time.Now().UTC()

	if err := p.users.SetPresence(userID, online, lastSeen); err != nil {
		p.log.Warn("Presence write failed", "user_id", userID, "online", online, "error", err)
	}

	p.registry.BroadcastAll(ctx, event.UserStatusChanged{
		UserID:   userID,
		IsOnline: online,
		LastSeen: lastSeen,
	})
}
