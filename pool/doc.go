// Package pool
// Author: momentics <momentics@gmail.com>
//
// Generic object pools. SlicePool hands out fixed-capacity slices and is
// used for the scanner's copy-out chunks.
package pool
