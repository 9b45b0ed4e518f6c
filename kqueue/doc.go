// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package kqueue implements a generic event-notification registry.
//
// A Queue is a single wait point over a heterogeneous set of sources. Each
// registration is a Watch binding a filter, a source identifier and the
// owning Queue. Sources notify their watches through a NoteList; activated
// watches are appended to the Queue's ready list and retrieved in batches by
// Scan.
//
// Locking, outer to inner:
//
//	Owner.mu        handle watch lists, per-queue hashes, attach/detach
//	Registry.mu     filter table (RWMutex, read-held across attach/detach)
//	Queue.mu        ready list, count, waiter wakeup, watch output fields
//
// Filter Event callbacks run without Queue.mu held. Activation only takes
// Queue.mu for a short splice and never blocks.
//
// A Scan pass appends a marker watch to the ready list and stops when it pops
// its own marker, so watches activated during the pass are left for the next
// call while producers keep appending to the same list.
package kqueue
