// Package schedule owns recurring work-order schedules: creating and
// deactivating them, and the materializer pass that turns due schedules into
// new open work orders.
//
// The materializer is stateless between ticks. Safety under overlapping or
// repeated ticks comes from two store-level guards rather than locks:
//
//   - each occurrence insert carries a unique idempotency key derived from
//     (schedule id, planned run), so a retried insert collapses into the
//     first one;
//   - the next-run advance is conditional on the value read at the start of
//     the tick, so a concurrent tick that already advanced the schedule
//     turns this one into a no-op.
package schedule
