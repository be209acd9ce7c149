package metrics_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/groupwarden/groupwarden/internal/metrics"
)

func collectors() []struct {
	name string
	c    prometheus.Collector
} {
	return []struct {
		name string
		c    prometheus.Collector
	}{
		{"groupwarden_events_received_total", metrics.EventsReceived},
		{"groupwarden_intents_processed_total", metrics.IntentsProcessed},
		{"groupwarden_intents_rejected_total", metrics.IntentsRejected},
		{"groupwarden_enforcement_failures_total", metrics.EnforcementFailures},
		{"groupwarden_enforcement_duration_seconds", metrics.EnforcementDuration},
		{"groupwarden_platform_calls_total", metrics.PlatformCalls},
		{"groupwarden_platform_call_duration_seconds", metrics.PlatformCallDuration},
		{"groupwarden_scheduled_reversals", metrics.ScheduledReversals},
		{"groupwarden_expiry_fired_total", metrics.ExpiryFired},
		{"groupwarden_flood_triggers_total", metrics.FloodTriggers},
		{"groupwarden_warnings_issued_total", metrics.WarningsIssued},
		{"groupwarden_federation_fanout_total", metrics.FederationFanout},
		{"groupwarden_federation_fanout_duration_seconds", metrics.FederationFanoutDuration},
		{"groupwarden_active_actions", metrics.ActiveActions},
		{"groupwarden_unconfirmed_actions", metrics.UnconfirmedActions},
		{"groupwarden_db_size_bytes", metrics.DBSizeBytes},
		{"groupwarden_dispatch_enqueued_total", metrics.DispatchEnqueued},
		{"groupwarden_dispatch_dropped_total", metrics.DispatchDropped},
		{"groupwarden_dispatch_queue_depth", metrics.DispatchQueueDepth},
		{"groupwarden_reconcile_duration_seconds", metrics.ReconcileDuration},
		{"groupwarden_reconcile_repaired_total", metrics.ReconcileRepaired},
		{"groupwarden_admin_cache_lookups_total", metrics.AdminCacheLookups},
	}
}

// TestMetricCollectorsNonNil verifies all package-level metric variables
// are non-nil and pass Prometheus linting rules.
func TestMetricCollectorsNonNil(t *testing.T) {
	for _, tc := range collectors() {
		t.Run(tc.name, func(t *testing.T) {
			if tc.c == nil {
				t.Fatal("collector is nil")
			}
			lintErrs, err := testutil.CollectAndLint(tc.c)
			if err != nil {
				t.Errorf("CollectAndLint gather error: %v", err)
			}
			if len(lintErrs) > 0 {
				t.Errorf("prometheus lint errors: %v", lintErrs)
			}
		})
	}
}

// TestMetricNamesAndHelp verifies all expected metrics are registered under
// the groupwarden_ namespace and have non-empty help strings.
// Uses Describe() rather than Gather() so Vec metrics with no observations
// are checked correctly.
func TestMetricNamesAndHelp(t *testing.T) {
	for _, tc := range collectors() {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 32)
			go func() {
				tc.c.Describe(ch)
				close(ch)
			}()

			found := false
			for d := range ch {
				s := d.String()
				// Desc.String() format:
				//   Desc{fqName: "groupwarden_foo", help: "Some help.", ...}
				if strings.Contains(s, tc.name) {
					found = true
					if strings.Contains(s, `help: ""`) {
						t.Errorf("descriptor for %s has an empty help string", tc.name)
					}
					if !strings.HasPrefix(tc.name, "groupwarden_") {
						t.Errorf("metric name %s does not have groupwarden_ prefix", tc.name)
					}
				}
			}
			if !found {
				t.Errorf("no descriptor containing %q returned by Describe()", tc.name)
			}
		})
	}
}
