// Package realtime is the live connection plane: the connection registry with
// its per-user, per-role and per-topic indexes, the selector-addressed
// broadcast engine, the inbound message dispatcher, and the domain event
// publishers. Everything else in the repository is a collaborator consumed
// through interfaces defined in the domain package.
package realtime
