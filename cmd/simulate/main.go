// Command simulate drives a running vigil instance with synthetic presence
// traffic: a set of users joining and leaving a group's channels, including
// the short flaps the tracker is expected to discard.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// Default configuration constants.
const (
	defaultUsers      = 25
	defaultDuration   = 60 * time.Second
	defaultMinDwell   = 2 * time.Second
	defaultMaxDwell   = 15 * time.Second
	defaultTimeout    = 10 * time.Second
	defaultRetryMax   = 3
	leaderboardLimit  = 10
	stateOffline      = 0
	stateInChannel    = 1
	stateBroadcasting = 2
)

type presenceState struct {
	InChannel    bool `json:"in_channel"`
	Broadcasting bool `json:"broadcasting"`
}

type presenceEvent struct {
	EventID string        `json:"event_id"`
	GroupID string        `json:"group_id"`
	UserID  string        `json:"user_id"`
	Before  presenceState `json:"before"`
	After   presenceState `json:"after"`
	TS      string        `json:"ts"`
}

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		group     = flag.String("group", "sim-group", "Group ID to simulate")
		users     = flag.Int("users", defaultUsers, "Number of simulated users")
		duration  = flag.Duration("duration", defaultDuration, "How long to run the simulation")
		minDwell  = flag.Duration("min-dwell", defaultMinDwell, "Shortest stay in one presence state")
		maxDwell  = flag.Duration("max-dwell", defaultMaxDwell, "Longest stay in one presence state")
		broadcast = flag.Bool("broadcast", false, "Also flap the broadcasting flag")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	)
	flag.Parse()

	client := retryablehttp.NewClient()
	client.RetryMax = defaultRetryMax
	client.HTTPClient.Timeout = defaultTimeout
	client.Logger = nil

	rng := rand.New(rand.NewSource(*seed))
	deadline := time.Now().Add(*duration)
	states := make([]int, *users)

	var sent, dropped int
	for time.Now().Before(deadline) {
		u := rng.Intn(*users)
		next := nextState(rng, states[u], *broadcast)
		if next == states[u] {
			continue
		}

		ev := presenceEvent{
			EventID: uuid.NewString(),
			GroupID: *group,
			UserID:  fmt.Sprintf("user-%03d", u),
			Before:  toState(states[u]),
			After:   toState(next),
			TS:      time.Now().UTC().Format(time.RFC3339),
		}
		states[u] = next

		if err := post(client, *baseURL+"/events", ev); err != nil {
			dropped++
			fmt.Fprintf(os.Stderr, "event dropped: %v\n", err)
		} else {
			sent++
		}

		dwell := *minDwell + time.Duration(rng.Int63n(int64(*maxDwell-*minDwell+1)))
		time.Sleep(dwell / time.Duration(*users))
	}

	fmt.Printf("sent %d events (%d dropped)\n", sent, dropped)

	if err := printLeaderboard(client, *baseURL, *group); err != nil {
		fmt.Fprintf(os.Stderr, "leaderboard fetch failed: %v\n", err)
	}
}

// nextState picks a plausible presence transition from the current state.
func nextState(rng *rand.Rand, current int, broadcast bool) int {
	switch current {
	case stateOffline:
		return stateInChannel
	case stateInChannel:
		if broadcast && rng.Intn(2) == 0 {
			return stateBroadcasting
		}
		return stateOffline
	default:
		if rng.Intn(2) == 0 {
			return stateInChannel
		}
		return stateOffline
	}
}

func toState(s int) presenceState {
	return presenceState{
		InChannel:    s >= stateInChannel,
		Broadcasting: s == stateBroadcasting,
	}
}

func post(client *retryablehttp.Client, url string, ev presenceEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("post event: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func printLeaderboard(client *retryablehttp.Client, baseURL, group string) error {
	url := fmt.Sprintf("%s/leaderboard?group=%s&limit=%d", baseURL, group, leaderboardLimit)
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("get leaderboard: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read leaderboard: %w", err)
	}
	fmt.Printf("leaderboard: %s\n", body)
	return nil
}
