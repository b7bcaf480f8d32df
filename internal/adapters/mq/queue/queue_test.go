package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/vigil/internal/adapters/mq/queue"
	"github.com/okian/vigil/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func event(id string) queue.Event {
	return model.PresenceEvent{
		EventID: id,
		GroupID: "g1",
		UserID:  "u1",
		After:   model.PresenceState{InChannel: true},
		TS:      time.Now(),
	}
}

func TestInMemoryQueue(t *testing.T) {
	ctx := context.Background()

	Convey("Given a queue with small capacity", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(2))

		Convey("When enqueueing within capacity", func() {
			So(q.Enqueue(ctx, event("e1")), ShouldBeTrue)
			So(q.Enqueue(ctx, event("e2")), ShouldBeTrue)
			So(q.Len(ctx), ShouldEqual, 2)

			Convey("Then an overflow enqueue is rejected, not blocked", func() {
				So(q.Enqueue(ctx, event("e3")), ShouldBeFalse)
			})

			Convey("And dequeue preserves FIFO order", func() {
				ch := q.Dequeue(ctx)
				first := <-ch
				second := <-ch
				So(first.EventID, ShouldEqual, "e1")
				So(second.EventID, ShouldEqual, "e2")
			})
		})

		Convey("When the queue is closed", func() {
			So(q.Enqueue(ctx, event("e1")), ShouldBeTrue)
			So(q.Close(), ShouldBeNil)

			Convey("Then enqueues are rejected", func() {
				So(q.IsClosed(), ShouldBeTrue)
				So(q.Enqueue(ctx, event("e2")), ShouldBeFalse)
			})

			Convey("Then buffered events drain and the channel closes", func() {
				ch := q.Dequeue(ctx)
				e, ok := <-ch
				So(ok, ShouldBeTrue)
				So(e.EventID, ShouldEqual, "e1")
				_, ok = <-ch
				So(ok, ShouldBeFalse)
			})

			Convey("And closing again is a no-op", func() {
				So(q.Close(), ShouldBeNil)
			})
		})
	})
}
