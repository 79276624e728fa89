// Package cluster turns same-category ready events into notification groups.
//
// A declarative Table maps each category to a Policy: a windowing strategy
// (anchored-greedy, fixed-grid, or none), a grouping key, an aggregation, and
// which constituent time becomes the notification time. The Engine applies
// the policy and derives every group ID from its inputs, so re-clustering an
// unchanged batch yields byte-identical groups.
package cluster
