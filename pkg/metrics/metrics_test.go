package metrics_test

import (
	"testing"

	"github.com/okian/vigil/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManager(t *testing.T) {
	Convey("Given a metrics manager on a fresh registry", t, func() {
		reg := prometheus.NewRegistry()
		m := metrics.NewManager(
			metrics.WithPrometheusRegistry(reg),
			metrics.WithNamespace("vigil_test"),
			metrics.WithSubsystem("presence"),
		)

		Convey("Then it should register without panicking", func() {
			So(m, ShouldNotBeNil)
		})

		Convey("Then the registry should gather the registered families", func() {
			families, err := reg.Gather()
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
		})
	})
}

func TestPackageHelpers(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording domain events", func() {
			So(func() {
				metrics.RecordEventProcessed()
				metrics.RecordEventDuplicate()
				metrics.RecordSessionStarted()
				metrics.RecordSessionClosed("stop")
				metrics.RecordSessionClosed("implicit")
				metrics.RecordSessionDiscarded()
				metrics.UpdateActiveSessions(3)
				metrics.RecordMerge(42)
				metrics.RecordMergeError()
				metrics.UpdatePendingDeltas(1)
				metrics.RecordFlushPass()
				metrics.RecordFlushCheckpoint()
				metrics.RecordReconcilePass()
				metrics.RecordReconcileFailure("forbidden")
				metrics.RecordRoleMutation("add")
				metrics.RecordRoleMutation("remove")
				metrics.RecordRateLimitPause(2)
				metrics.UpdateQueueSize(5)
				metrics.UpdateQueueCapacity(100)
				metrics.UpdateQueueUtilization(0.05)
				metrics.RecordQueueEnqueue()
				metrics.RecordQueueDequeue()
				metrics.RecordQueueEnqueueError()
				metrics.RecordWorkerProcessingLatency(1.5)
				metrics.RecordWorkerError()
				metrics.RecordHTTPRequest("leaderboard", "GET", "200")
				metrics.RecordHTTPRequestDuration("leaderboard", "GET", "200", 3.2)
				metrics.RecordErrorByComponent("queue", "closed")
				metrics.UpdateSystemMemoryUsage(1 << 20)
				metrics.UpdateSystemGoroutineCount(12)
				metrics.RecordSystemGCPauseTime(0.4)
			}, ShouldNotPanic)
		})

		Convey("Then the global registry should expose them", func() {
			families, err := metrics.GetRegistry().Gather()
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
		})
	})
}
