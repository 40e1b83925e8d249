package fixtures

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMatches_ByMatchday(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v4/competitions/PL/matches" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("matchday") != "7" {
			t.Fatalf("matchday = %s, want 7", r.URL.Query().Get("matchday"))
		}
		if r.Header.Get("X-Auth-Token") != "test-token" {
			t.Fatalf("missing auth token header")
		}

		json.NewEncoder(w).Encode(map[string]any{
			"matches": []map[string]any{
				{
					"id":       101,
					"utcDate":  "2026-09-12T14:00:00Z",
					"status":   "SCHEDULED",
					"matchday": 7,
					"homeTeam": map[string]any{"id": 57, "name": "Arsenal FC", "crest": "https://crests/57.png"},
					"awayTeam": map[string]any{"id": 64, "name": "Liverpool FC", "crest": "https://crests/64.png"},
				},
			},
			"season": map[string]any{"currentMatchday": 7},
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-token")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	list, err := client.Matches(ctx, 7)
	if err != nil {
		t.Fatalf("Matches error: %v", err)
	}
	if len(list.Matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(list.Matches))
	}
	if list.Matches[0].HomeTeam.Name != "Arsenal FC" {
		t.Fatalf("unexpected home team: %+v", list.Matches[0].HomeTeam)
	}
	if list.Season.CurrentMatchday != 7 {
		t.Fatalf("current matchday = %d, want 7", list.Season.CurrentMatchday)
	}
}

func TestTeams(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v4/competitions/PL/teams" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"teams": []map[string]any{
				{"id": 57, "name": "Arsenal FC", "crest": "https://crests/57.png"},
				{"id": 64, "name": "Liverpool FC", "crest": "https://crests/64.png"},
			},
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-token")

	teams, err := client.Teams(context.Background())
	if err != nil {
		t.Fatalf("Teams error: %v", err)
	}
	if len(teams) != 2 || teams[1].ID != 64 {
		t.Fatalf("unexpected teams: %+v", teams)
	}
}

func TestFirstKickoff(t *testing.T) {
	early := time.Date(2026, 9, 12, 11, 30, 0, 0, time.UTC)
	late := time.Date(2026, 9, 13, 15, 0, 0, 0, time.UTC)

	kickoff, ok := FirstKickoff([]Match{{UTCDate: late}, {UTCDate: early}})
	if !ok || !kickoff.Equal(early) {
		t.Fatalf("FirstKickoff = %v, %v; want %v, true", kickoff, ok, early)
	}

	if _, ok := FirstKickoff(nil); ok {
		t.Fatalf("FirstKickoff(nil) must report false")
	}
}
