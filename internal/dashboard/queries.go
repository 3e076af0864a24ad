package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/relayhub/internal/relay"
	"github.com/zulandar/relayhub/internal/store"
)

// BotSummary is the dashboard view of one managed bot. The credential is
// never exposed.
type BotSummary struct {
	Bot         string    `json:"bot"`
	Handle      string    `json:"handle"`
	Platform    string    `json:"platform"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	Subscribers int64     `json:"subscribers"`
	Admins      int       `json:"admins"`
	State       string    `json:"state"`
}

// botSummaries lists bots (optionally for one owner) with their counts and
// session state. Bots without a session report state "offline".
func botSummaries(ctx context.Context, st store.Store, sessions SessionLister, ownerID string) ([]BotSummary, error) {
	bots, err := st.ListBots(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("dashboard: list bots: %w", err)
	}

	// Labels are not unique across platforms, so match on bot id.
	states := make(map[string]string)
	for _, s := range sessions.Sessions() {
		states[s.BotID] = s.State
	}

	out := make([]BotSummary, 0, len(bots))
	for _, b := range bots {
		subs, err := st.CountSubscribers(ctx, b.Credential)
		if err != nil {
			return nil, fmt.Errorf("dashboard: count subscribers: %w", err)
		}
		admins, err := st.ListAdmins(ctx, b.Credential)
		if err != nil {
			return nil, fmt.Errorf("dashboard: list admins: %w", err)
		}
		label := relay.BotLabel(b)
		state, ok := states[b.ID]
		if !ok {
			state = "offline"
		}
		out = append(out, BotSummary{
			Bot:         label,
			Handle:      b.Handle,
			Platform:    b.Platform,
			OwnerID:     b.OwnerID,
			CreatedAt:   b.CreatedAt,
			Subscribers: subs,
			Admins:      len(admins),
			State:       state,
		})
	}
	return out, nil
}
