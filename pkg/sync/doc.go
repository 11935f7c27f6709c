// ABOUTME: Clock synchronization package
// ABOUTME: Provides NTP-style clock sync and the shared offset+drift filter
// Package sync provides clock synchronization for precise audio timing.
//
// ClockSync consumes NTP-style four-timestamp exchanges and maps between the
// server clock and the local clock, tracking both offset and drift. It is the
// clock-offset collaborator the playback engine consumes.
//
// Example:
//
//	clock := sync.NewClockSync()
//	clock.ProcessSyncResponse(t1, t2, t3, t4)
//	localUs := clock.ServerToClient(chunkTimestamp)
package sync
