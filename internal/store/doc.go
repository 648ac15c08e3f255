// Package store defines interfaces for the latest-known state of each plot job
// served by the status API. Implementations live in other packages; nothing
// here survives a restart.
package store
