package party

import (
	"context"
	"testing"

	"github.com/pixil98/go-testutil"

	"github.com/pixil98/go-guildrpg/internal/storage"
)

func TestCoordinator_CreatePartyFromData(t *testing.T) {
	tests := map[string]struct {
		data       map[string]any
		expErr     string
		expMembers int
		expName    string
	}{
		"valid": {
			data: map[string]any{
				"name_i18n":           map[string]any{"en": "Wardens"},
				"leader_id":           "c1",
				"player_ids":          []any{"c2", "c3"},
				"current_location_id": "inn",
				"state_variables":     map[string]any{"morale": 7},
			},
			expMembers: 3,
			expName:    "Wardens",
		},
		"missing leader": {
			data:   map[string]any{"current_location_id": "inn"},
			expErr: "validating party data",
		},
		"wrong member type": {
			data: map[string]any{
				"leader_id":           "c1",
				"player_ids":          []any{42},
				"current_location_id": "inn",
			},
			expErr: "validating party data",
		},
		"bad identifier": {
			data: map[string]any{
				"leader_id":           "c 1",
				"current_location_id": "inn",
			},
			expErr: "creating party",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := NewCoordinator(nil)
			p, err := c.CreatePartyFromData(context.Background(), tenant, tt.data)
			if tt.expErr != "" {
				testutil.AssertErrorContains(t, err, tt.expErr)
				testutil.AssertEqual(t, "no party", len(c.Parties(tenant)), 0)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			testutil.AssertEqual(t, "members", len(p.MemberIDs), tt.expMembers)
			testutil.AssertEqual(t, "name", p.DisplayName("en"), tt.expName)
			got, _ := c.GetParty(tenant, p.ID)
			var morale int
			_, _ = got.Vars.Get("morale", &morale)
			testutil.AssertEqual(t, "morale", morale, 7)
			testutil.AssertEqual(t, "leader", got.LeaderID, storage.Identifier("c1"))
		})
	}
}
