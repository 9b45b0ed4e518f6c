// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor reports readiness edges of OS descriptors. It backs
// adopted descriptors in fdtable: each edge makes the descriptor's watches
// re-check their readiness. Linux uses epoll; other platforms get a stub.
package reactor
