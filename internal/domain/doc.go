// Package domain holds the core entities of the monitoring system (sensors,
// metrics, alerts and their audit trail) together with the repository and
// identity interfaces the realtime plane consumes. It has no dependencies on
// transport or storage packages.
package domain
