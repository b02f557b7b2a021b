package callclient

import "time"

// Attempt records one network dispatch of a LogicalCall. It is created
// immediately before its scheduling delay begins, so its observed
// duration (once the caller subtracts StartTime from completion time)
// includes the backoff window that preceded it.
type Attempt struct {
	SequenceNumber int
	URL            string
	StartTime      time.Time
	SpanHandle     string
}
