// Package session holds the scene session table and the pending-spawn queue.
// Neither type does its own locking: both are owned by the lifecycle controller, which serializes access.
package session
