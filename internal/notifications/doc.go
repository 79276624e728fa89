// Package notifications delivers clustered groups as push notifications.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Outbound requests
// are rate limited so a burst of groups coming due together cannot flood the
// topic.
//
// Callers depend only on the Service interface.
package notifications
