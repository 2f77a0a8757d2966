package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pixil98/go-guildrpg/internal/storage"
)

// Publisher is the publishing half of NatsServer.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// TurnReport is the payload published when a party finishes a turn.
type TurnReport struct {
	Tenant  storage.TenantID   `json:"guild_id"`
	PartyID storage.Identifier `json:"party_id"`
	Report  string             `json:"report"`
	SentAt  time.Time          `json:"sent_at"`
}

// Reporter publishes turn reports on guild.<tenant>.party.<party>.turn.
type Reporter struct {
	pub Publisher
	now func() time.Time
}

func NewReporter(pub Publisher) *Reporter {
	return &Reporter{pub: pub, now: time.Now}
}

func (r *Reporter) PublishTurnReport(_ context.Context, t storage.TenantID, partyID storage.Identifier, report string) error {
	b, err := json.Marshal(TurnReport{
		Tenant:  t,
		PartyID: partyID,
		Report:  report,
		SentAt:  r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding turn report: %w", err)
	}
	if err := r.pub.Publish(TurnSubject(t, partyID), b); err != nil {
		return fmt.Errorf("publishing turn report: %w", err)
	}
	return nil
}

// TurnSubject is the subject a party's turn reports are published on.
func TurnSubject(t storage.TenantID, partyID storage.Identifier) string {
	return fmt.Sprintf("guild.%s.party.%s.turn", token(string(t)), token(string(partyID)))
}

// TenantTurnSubject matches every party's turn reports in a tenant.
func TenantTurnSubject(t storage.TenantID) string {
	return fmt.Sprintf("guild.%s.party.*.turn", token(string(t)))
}

// SubscribeTurnReports delivers decoded turn reports for a tenant.
func SubscribeTurnReports(n *NatsServer, t storage.TenantID, fn func(TurnReport)) (func(), error) {
	return n.Subscribe(TenantTurnSubject(t), func(_ string, data []byte) {
		var tr TurnReport
		if err := json.Unmarshal(data, &tr); err != nil {
			return
		}
		fn(tr)
	})
}

// token makes an id safe to use as a single subject token.
func token(s string) string {
	return strings.ReplaceAll(s, ".", "_")
}
