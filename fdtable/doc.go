// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package fdtable is a per-process handle table. Entries are resources the
// handle-based filters can watch: in-memory pipes, files with change
// notification, adopted OS descriptors and event queues themselves.
//
// Closing a handle first detaches every watch on it through the bound
// kqueue.Owner, then closes the entry.
package fdtable
