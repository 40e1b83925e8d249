// Package fixtures provides a client for the external football-data API.
// The service only depends on it for the gameweek, deadline and kickoff
// triple and for proxying match lists to the frontend.
package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const competition = "PL"

// Client encapsulates HTTP interaction with the football-data API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a football-data client for the given address and token.
func NewClient(baseURL, token string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: rc.StandardClient(),
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Auth-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// Team identifies one club with its crest.
type Team struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Crest string `json:"crest"`
}

// Match describes one fixture of a matchday.
type Match struct {
	ID       int64     `json:"id"`
	UTCDate  time.Time `json:"utcDate"`
	Status   string    `json:"status"`
	Matchday int       `json:"matchday"`
	HomeTeam Team      `json:"homeTeam"`
	AwayTeam Team      `json:"awayTeam"`
}

// MatchList is the match listing for a competition, with season context.
type MatchList struct {
	Matches []Match `json:"matches"`
	Season  struct {
		CurrentMatchday int `json:"currentMatchday"`
	} `json:"season"`
}

// Matches returns the competition's fixtures, optionally filtered by matchday
// (0 means all).
func (c *Client) Matches(ctx context.Context, matchday int) (*MatchList, error) {
	path := "/v4/competitions/" + competition + "/matches"
	if matchday > 0 {
		path += "?matchday=" + strconv.Itoa(matchday)
	}

	var res MatchList
	if err := c.get(ctx, path, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Teams returns the competition's clubs.
func (c *Client) Teams(ctx context.Context) ([]Team, error) {
	var res struct {
		Teams []Team `json:"teams"`
	}
	if err := c.get(ctx, "/v4/competitions/"+competition+"/teams", &res); err != nil {
		return nil, err
	}
	return res.Teams, nil
}

// CurrentMatchday returns the season's current matchday, defaulting to 1
// when the API reports none.
func (c *Client) CurrentMatchday(ctx context.Context) (int, error) {
	list, err := c.Matches(ctx, 0)
	if err != nil {
		return 0, err
	}
	if list.Season.CurrentMatchday == 0 {
		return 1, nil
	}
	return list.Season.CurrentMatchday, nil
}

// FirstKickoff returns the earliest kickoff among the given matches.
func FirstKickoff(matches []Match) (time.Time, bool) {
	var first time.Time
	for _, m := range matches {
		if first.IsZero() || m.UTCDate.Before(first) {
			first = m.UTCDate
		}
	}
	return first, !first.IsZero()
}
