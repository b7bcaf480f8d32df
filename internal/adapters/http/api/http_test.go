package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/vigil/internal/adapters/http/api"
	"github.com/okian/vigil/internal/adapters/repository"
	service "github.com/okian/vigil/internal/app"
	"github.com/okian/vigil/internal/domain/model"
	"github.com/okian/vigil/internal/domain/reconcile"
)

type stubDeps struct {
	seen       map[string]bool
	unrecorded []string
	enqueueOK  bool
	enqueued   []model.PresenceEvent

	totals    map[string][]model.Total
	reconcile map[string]service.ReconcileSummary

	reconcileGroup string
	reconcileErr   error
	resetRemoved   bool
}

func newStubDeps() *stubDeps {
	return &stubDeps{
		seen:      map[string]bool{},
		enqueueOK: true,
		totals:    map[string][]model.Total{},
	}
}

func (s *stubDeps) SeenAndRecord(_ context.Context, id string) bool {
	if s.seen[id] {
		return true
	}
	s.seen[id] = true
	return false
}

func (s *stubDeps) Unrecord(_ context.Context, id string) {
	delete(s.seen, id)
	s.unrecorded = append(s.unrecorded, id)
}

func (s *stubDeps) Enqueue(_ context.Context, e model.PresenceEvent) bool {
	if !s.enqueueOK {
		return false
	}
	s.enqueued = append(s.enqueued, e)
	return true
}

func (s *stubDeps) TopN(_ context.Context, group string, n int) ([]model.Total, error) {
	totals := s.totals[group]
	if n > len(totals) {
		n = len(totals)
	}
	return totals[:n], nil
}

func (s *stubDeps) Total(_ context.Context, group, user string) (model.Total, error) {
	for _, t := range s.totals[group] {
		if t.UserID == user {
			return t, nil
		}
	}
	return model.Total{}, repository.ErrNotFound
}

func (s *stubDeps) ResetUser(_ context.Context, _, _ string) (bool, error) {
	return s.resetRemoved, nil
}

func (s *stubDeps) ForceReconcile(_ context.Context, group string) (map[string]service.ReconcileSummary, error) {
	s.reconcileGroup = group
	return s.reconcile, s.reconcileErr
}

func (s *stubDeps) GetStats() map[string]interface{} {
	return map[string]interface{}{"started": true}
}

func newTestServer(deps *stubDeps) *httptest.Server {
	mux := http.NewServeMux()
	api.NewServer(deps, deps, 100).Register(context.Background(), mux)
	return httptest.NewServer(mux)
}

func eventBody(id, group, user string, before, after bool) string {
	req := map[string]any{
		"event_id": id,
		"group_id": group,
		"user_id":  user,
		"before":   map[string]bool{"in_channel": before},
		"after":    map[string]bool{"in_channel": after},
		"ts":       time.Now().UTC().Format(time.RFC3339),
	}
	b, _ := json.Marshal(req)
	return string(b)
}

func TestPostEvent(t *testing.T) {
	Convey("Given the events endpoint", t, func() {
		deps := newStubDeps()
		ts := newTestServer(deps)
		defer ts.Close()

		Convey("A valid event is accepted", func() {
			resp, err := http.Post(ts.URL+"/events", "application/json",
				strings.NewReader(eventBody("e1", "g1", "alice", false, true)))
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
			So(deps.enqueued, ShouldHaveLength, 1)
			So(deps.enqueued[0].UserID, ShouldEqual, "alice")
			So(deps.enqueued[0].After.InChannel, ShouldBeTrue)
		})

		Convey("A replayed event ID is acknowledged as duplicate", func() {
			_, err := http.Post(ts.URL+"/events", "application/json",
				strings.NewReader(eventBody("e1", "g1", "alice", false, true)))
			So(err, ShouldBeNil)

			resp, err := http.Post(ts.URL+"/events", "application/json",
				strings.NewReader(eventBody("e1", "g1", "alice", false, true)))
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			var ack struct {
				Status    string `json:"status"`
				Duplicate bool   `json:"duplicate"`
			}
			So(json.NewDecoder(resp.Body).Decode(&ack), ShouldBeNil)
			So(ack.Duplicate, ShouldBeTrue)
			So(deps.enqueued, ShouldHaveLength, 1)
		})

		Convey("Missing fields are rejected", func() {
			resp, err := http.Post(ts.URL+"/events", "application/json",
				strings.NewReader(`{"event_id":"e1"}`))
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Malformed JSON is rejected", func() {
			resp, err := http.Post(ts.URL+"/events", "application/json",
				strings.NewReader(`{nope`))
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Backpressure rolls back the idempotency record", func() {
			deps.enqueueOK = false
			resp, err := http.Post(ts.URL+"/events", "application/json",
				strings.NewReader(eventBody("e9", "g1", "bob", false, true)))
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusTooManyRequests)
			So(deps.unrecorded, ShouldContain, "e9")

			Convey("So the same event can be retried later", func() {
				deps.enqueueOK = true
				retry, err := http.Post(ts.URL+"/events", "application/json",
					strings.NewReader(eventBody("e9", "g1", "bob", false, true)))
				So(err, ShouldBeNil)
				defer retry.Body.Close()
				So(retry.StatusCode, ShouldEqual, http.StatusAccepted)
			})
		})
	})
}

func TestGetLeaderboard(t *testing.T) {
	Convey("Given the leaderboard endpoint", t, func() {
		deps := newStubDeps()
		now := time.Now()
		deps.totals["g1"] = []model.Total{
			{GroupID: "g1", UserID: "alice", Seconds: 900, LastUpdated: now},
			{GroupID: "g1", UserID: "bob", Seconds: 300, LastUpdated: now},
		}
		ts := newTestServer(deps)
		defer ts.Close()

		Convey("Entries come back ranked", func() {
			resp, err := http.Get(ts.URL + "/leaderboard?group=g1&limit=10")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			var entries []api.Entry
			So(json.NewDecoder(resp.Body).Decode(&entries), ShouldBeNil)
			So(entries, ShouldHaveLength, 2)
			So(entries[0].Rank, ShouldEqual, 1)
			So(entries[0].UserID, ShouldEqual, "alice")
			So(entries[1].Rank, ShouldEqual, 2)
		})

		Convey("A missing group parameter is rejected", func() {
			resp, err := http.Get(ts.URL + "/leaderboard?limit=10")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A limit beyond the cap is rejected", func() {
			resp, err := http.Get(ts.URL + "/leaderboard?group=g1&limit=5000")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A non-numeric limit is rejected", func() {
			resp, err := http.Get(ts.URL + "/leaderboard?group=g1&limit=lots")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestGetTotal(t *testing.T) {
	Convey("Given the total endpoint", t, func() {
		deps := newStubDeps()
		deps.totals["g1"] = []model.Total{
			{GroupID: "g1", UserID: "alice", Seconds: 1234, LastUpdated: time.Now()},
		}
		ts := newTestServer(deps)
		defer ts.Close()

		Convey("A known user's total is returned", func() {
			resp, err := http.Get(ts.URL + "/total?group=g1&user=alice")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			var body struct {
				Seconds int64 `json:"seconds"`
			}
			So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
			So(body.Seconds, ShouldEqual, 1234)
		})

		Convey("An unknown user maps to 404", func() {
			resp, err := http.Get(ts.URL + "/total?group=g1&user=ghost")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestAdminEndpoints(t *testing.T) {
	Convey("Given the admin endpoints", t, func() {
		deps := newStubDeps()
		ts := newTestServer(deps)
		defer ts.Close()

		Convey("Reset reports whether a row was removed", func() {
			deps.resetRemoved = true
			resp, err := http.Post(ts.URL+"/admin/reset?group=g1&user=alice", "", nil)
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			var body struct {
				Removed bool `json:"removed"`
			}
			So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
			So(body.Removed, ShouldBeTrue)
		})

		Convey("Reset without a user is rejected", func() {
			resp, err := http.Post(ts.URL+"/admin/reset?group=g1", "", nil)
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Reconcile returns per-group summaries", func() {
			deps.reconcile = map[string]service.ReconcileSummary{
				"g1": {Summary: reconcile.Summary{Ranked: 5, Updated: 2}},
				"g2": {Error: "tier role not resolvable in directory"},
			}
			resp, err := http.Post(ts.URL+"/admin/reconcile", "", nil)
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(deps.reconcileGroup, ShouldBeEmpty)

			var body map[string]service.ReconcileSummary
			So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
			So(body["g1"].Ranked, ShouldEqual, 5)
			So(body["g1"].Updated, ShouldEqual, 2)
			So(body["g2"].Error, ShouldNotBeEmpty)
		})

		Convey("Reconcile forwards a targeted group", func() {
			deps.reconcile = map[string]service.ReconcileSummary{
				"g2": {Summary: reconcile.Summary{Ranked: 3}},
			}
			resp, err := http.Post(ts.URL+"/admin/reconcile?group=g2", "", nil)
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(deps.reconcileGroup, ShouldEqual, "g2")
		})

		Convey("Reconcile maps an unknown group to 404", func() {
			deps.reconcileErr = service.ErrUnknownGroup
			resp, err := http.Post(ts.URL+"/admin/reconcile?group=nope", "", nil)
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})

		Convey("Reconcile maps a disabled engine to 409", func() {
			deps.reconcileErr = service.ErrReconcileDisabled
			resp, err := http.Post(ts.URL+"/admin/reconcile", "", nil)
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusConflict)
		})

		Convey("Reconcile rejects GET", func() {
			resp, err := http.Get(ts.URL + "/admin/reconcile")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestStatsAndHealth(t *testing.T) {
	Convey("Given the observability endpoints", t, func() {
		deps := newStubDeps()
		ts := newTestServer(deps)
		defer ts.Close()

		Convey("Stats returns the provider snapshot", func() {
			resp, err := http.Get(ts.URL + "/stats")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			var body map[string]any
			So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
			So(body["started"], ShouldEqual, true)
		})

		Convey("Healthz serves prometheus metrics", func() {
			resp, err := http.Get(ts.URL + "/healthz")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})
	})
}
