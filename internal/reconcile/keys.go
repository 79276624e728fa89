package reconcile

import (
	"strings"

	"cropwatch/internal/cluster"
	"cropwatch/internal/event"
)

// Key prefixes of the records this package owns.
const (
	PrefixTransition = "transition/"
	PrefixDelta      = "delta/"
	PrefixNext       = "next/"
	PrefixOutbox     = "outbox/"
)

// TransitionKey is the state key of one tracked identity.
func TransitionKey(category event.Category, identity string) string {
	return PrefixTransition + string(category) + "/" + identity
}

// ParseTransitionKey splits a transition key into category and identity.
func ParseTransitionKey(key string) (event.Category, string, bool) {
	rest, ok := strings.CutPrefix(key, PrefixTransition)
	if !ok {
		return "", "", false
	}
	category, identity, ok := strings.Cut(rest, "/")
	if !ok || category == "" || identity == "" {
		return "", "", false
	}
	return event.Category(category), identity, true
}

func deltaKey(category event.Category) string {
	return PrefixDelta + string(category)
}

func nextKey(category event.Category) string {
	return PrefixNext + string(category)
}

func outboxKey(g cluster.Group) string {
	return PrefixOutbox + string(g.Category) + "/" + g.DeliveryKey()
}
