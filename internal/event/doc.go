// Package event defines the records that flow out of a game snapshot: ready
// events grouped by category, plus explicit clear signals for transition
// tracked identities.
package event
