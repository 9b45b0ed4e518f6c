// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer scheduling for the registry. The Scheduler serves timer watches:
// one runner goroutine, a min-heap of deadlines, and a Cancel that waits
// for an in-flight callback.
package concurrency
