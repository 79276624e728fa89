// Package schedule owns delivery of clustered groups at their notification
// time.
//
// Every poll cancels all pending deliveries and schedules the fresh plan, so
// the scheduler never needs to diff plans. A delivery ledger in the state
// store records each delivery key before it is sent; a group that fires twice
// because a poll re-offered it after it already went out is suppressed.
package schedule
