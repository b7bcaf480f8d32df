package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/vigil/internal/domain/dedupe"
)

func TestSeenAndRecord(t *testing.T) {
	Convey("Given an in-memory deduper", t, func() {
		d := dedupe.NewInMemoryDeduper()
		ctx := context.Background()

		Convey("A fresh event ID is recorded, not seen", func() {
			So(d.SeenAndRecord(ctx, "evt-1"), ShouldBeFalse)
			So(d.Size(), ShouldEqual, 1)

			Convey("And the same ID is seen afterwards", func() {
				So(d.SeenAndRecord(ctx, "evt-1"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("Distinct IDs are all recorded", func() {
			for i := 0; i < 5; i++ {
				So(d.SeenAndRecord(ctx, fmt.Sprintf("evt-%d", i)), ShouldBeFalse)
			}
			So(d.Size(), ShouldEqual, 5)
		})
	})
}

func TestUnrecord(t *testing.T) {
	Convey("Given a deduper with recorded events", t, func() {
		d := dedupe.NewInMemoryDeduper()
		ctx := context.Background()
		d.SeenAndRecord(ctx, "evt-1")

		Convey("Unrecord allows the ID to be recorded again", func() {
			d.Unrecord(ctx, "evt-1")
			So(d.Size(), ShouldEqual, 0)
			So(d.SeenAndRecord(ctx, "evt-1"), ShouldBeFalse)
		})

		Convey("Unrecord of an unknown ID changes nothing", func() {
			d.Unrecord(ctx, "nope")
			So(d.Size(), ShouldEqual, 1)
		})
	})
}

func TestBoundedEviction(t *testing.T) {
	Convey("Given a bounded deduper of capacity 3", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		ctx := context.Background()

		for i := 1; i <= 3; i++ {
			So(d.SeenAndRecord(ctx, fmt.Sprintf("evt-%d", i)), ShouldBeFalse)
		}
		So(d.Size(), ShouldEqual, 3)

		Convey("Recording a fourth ID evicts the oldest", func() {
			So(d.SeenAndRecord(ctx, "evt-4"), ShouldBeFalse)
			So(d.Size(), ShouldEqual, 3)

			// evt-1 was evicted; recording it again is a fresh insert
			So(d.SeenAndRecord(ctx, "evt-1"), ShouldBeFalse)
			So(d.Size(), ShouldEqual, 3)

			// evt-3 and evt-4 survive
			So(d.SeenAndRecord(ctx, "evt-3"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "evt-4"), ShouldBeTrue)
		})

		Convey("A re-recorded ID is not evicted through its stale slot", func() {
			d.Unrecord(ctx, "evt-2")
			So(d.SeenAndRecord(ctx, "evt-2"), ShouldBeFalse) // takes a new slot, evicts evt-1
			So(d.SeenAndRecord(ctx, "evt-4"), ShouldBeFalse) // lands on the cleared slot

			// evt-2 lives in its new slot, untouched by the wrap
			So(d.SeenAndRecord(ctx, "evt-2"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "evt-3"), ShouldBeTrue)
			So(d.Size(), ShouldEqual, 3)
		})

		Convey("An unrecorded slot does not double-decrement on wrap", func() {
			d.Unrecord(ctx, "evt-1")
			So(d.Size(), ShouldEqual, 2)

			So(d.SeenAndRecord(ctx, "evt-4"), ShouldBeFalse)
			So(d.Size(), ShouldEqual, 3)
			So(d.SeenAndRecord(ctx, "evt-2"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "evt-3"), ShouldBeTrue)
		})
	})

	Convey("Given a deduper of capacity 1", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1))
		ctx := context.Background()

		So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
		So(d.SeenAndRecord(ctx, "b"), ShouldBeFalse)
		So(d.Size(), ShouldEqual, 1)
		So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
	})
}

func TestUnboundedMode(t *testing.T) {
	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		ctx := context.Background()

		const n = 1000
		for i := 0; i < n; i++ {
			So(d.SeenAndRecord(ctx, fmt.Sprintf("evt-%d", i)), ShouldBeFalse)
		}

		Convey("Nothing is evicted", func() {
			So(d.Size(), ShouldEqual, int64(n))
			So(d.SeenAndRecord(ctx, "evt-0"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, fmt.Sprintf("evt-%d", n-1)), ShouldBeTrue)
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(10000))
		ctx := context.Background()

		const goroutines = 10
		const perGoroutine = 100

		var wg sync.WaitGroup
		for g := 0; g < goroutines; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < perGoroutine; i++ {
					d.SeenAndRecord(ctx, fmt.Sprintf("evt-%d-%d", g, i))
				}
			}(g)
		}
		wg.Wait()

		Convey("Every ID is recorded exactly once", func() {
			So(d.Size(), ShouldEqual, int64(goroutines*perGoroutine))
		})
	})
}
