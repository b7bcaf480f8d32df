package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/vigil/internal/adapters/repository"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMemStoreMerge(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty store", t, func() {
		s := repository.NewMemStore()

		Convey("When merging into a fresh key", func() {
			total, err := s.Merge(ctx, "g1", "u1", 30)

			Convey("Then the record is created with the delta", func() {
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 30)
			})
		})

		Convey("When merging twice", func() {
			_, err := s.Merge(ctx, "g1", "u1", 30)
			So(err, ShouldBeNil)
			total, err := s.Merge(ctx, "g1", "u1", 12)

			Convey("Then totals are additive", func() {
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 42)

				rec, err := s.Total(ctx, "g1", "u1")
				So(err, ShouldBeNil)
				So(rec.Seconds, ShouldEqual, 42)
				So(rec.LastUpdated.IsZero(), ShouldBeFalse)
			})
		})

		Convey("When merging zero", func() {
			_, err := s.Merge(ctx, "g1", "u1", 100)
			So(err, ShouldBeNil)
			total, err := s.Merge(ctx, "g1", "u1", 0)

			Convey("Then the total is unchanged", func() {
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 100)
			})
		})

		Convey("When reading an absent key", func() {
			_, err := s.Total(ctx, "g1", "ghost")

			Convey("Then it should be ErrNotFound", func() {
				So(err, ShouldEqual, repository.ErrNotFound)
			})
		})
	})
}

func TestMemStoreTopN(t *testing.T) {
	ctx := context.Background()

	Convey("Given totals in two groups", t, func() {
		s := repository.NewMemStore()
		_, _ = s.Merge(ctx, "g1", "alice", 100)
		_, _ = s.Merge(ctx, "g1", "carol", 90)
		_, _ = s.Merge(ctx, "g1", "bob", 90)
		_, _ = s.Merge(ctx, "g1", "dave", 50)
		_, _ = s.Merge(ctx, "g2", "erin", 999)

		Convey("When fetching the top entries", func() {
			top, err := s.TopN(ctx, "g1", 10)
			So(err, ShouldBeNil)

			Convey("Then order is seconds desc, ties by user asc, group-scoped", func() {
				So(len(top), ShouldEqual, 4)
				So(top[0].UserID, ShouldEqual, "alice")
				So(top[1].UserID, ShouldEqual, "bob")
				So(top[2].UserID, ShouldEqual, "carol")
				So(top[3].UserID, ShouldEqual, "dave")
			})
		})

		Convey("When n limits the result", func() {
			top, err := s.TopN(ctx, "g1", 2)
			So(err, ShouldBeNil)
			So(len(top), ShouldEqual, 2)
			So(top[0].UserID, ShouldEqual, "alice")
		})

		Convey("When n is invalid", func() {
			_, err := s.TopN(ctx, "g1", 0)
			So(err, ShouldEqual, repository.ErrInvalidN)
		})

		Convey("When the group is unknown", func() {
			top, err := s.TopN(ctx, "nope", 5)
			So(err, ShouldBeNil)
			So(len(top), ShouldEqual, 0)
		})

		Convey("When a merge reorders the board", func() {
			_, err := s.Merge(ctx, "g1", "dave", 60)
			So(err, ShouldBeNil)

			top, err := s.TopN(ctx, "g1", 1)
			So(err, ShouldBeNil)
			So(top[0].UserID, ShouldEqual, "dave")
			So(top[0].Seconds, ShouldEqual, 110)
		})
	})
}

func TestMemStoreReset(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store with one record", t, func() {
		s := repository.NewMemStore()
		_, _ = s.Merge(ctx, "g1", "u1", 10)

		Convey("When resetting it", func() {
			removed, err := s.Reset(ctx, "g1", "u1")

			Convey("Then the record is gone", func() {
				So(err, ShouldBeNil)
				So(removed, ShouldBeTrue)
				_, err := s.Total(ctx, "g1", "u1")
				So(err, ShouldEqual, repository.ErrNotFound)
				So(s.Count(ctx, "g1"), ShouldEqual, 0)
			})
		})

		Convey("When resetting an absent key", func() {
			removed, err := s.Reset(ctx, "g1", "ghost")
			So(err, ShouldBeNil)
			So(removed, ShouldBeFalse)
		})
	})
}

func TestMemStoreConcurrentMerge(t *testing.T) {
	ctx := context.Background()

	Convey("Given concurrent merges on the same key", t, func() {
		s := repository.NewMemStore()

		const workers = 8
		const perWorker = 50

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					_, _ = s.Merge(ctx, "g1", "u1", 1)
				}
			}()
		}
		wg.Wait()

		Convey("Then no increment is lost", func() {
			rec, err := s.Total(ctx, "g1", "u1")
			So(err, ShouldBeNil)
			So(rec.Seconds, ShouldEqual, int64(workers*perWorker))
		})
	})
}

func TestMemStoreManyUsersOrdering(t *testing.T) {
	ctx := context.Background()

	Convey("Given many users with distinct totals", t, func() {
		s := repository.NewMemStore()
		const users = 200
		for i := 0; i < users; i++ {
			_, _ = s.Merge(ctx, "g1", fmt.Sprintf("user-%03d", i), int64(i+1))
		}

		Convey("Then TopN is strictly non-increasing", func() {
			top, err := s.TopN(ctx, "g1", users)
			So(err, ShouldBeNil)
			So(len(top), ShouldEqual, users)
			for i := 1; i < len(top); i++ {
				So(top[i].Seconds, ShouldBeLessThanOrEqualTo, top[i-1].Seconds)
			}
			So(top[0].Seconds, ShouldEqual, users)
		})
	})
}
