// Package transport wraps a claimed MSC interface session with the
// transfer primitives the BOT sequencer builds on.
//
// A [Pipe] owns the resolved bulk IN/OUT endpoint pair and the DMA-aligned
// scratch buffer all bulk traffic moves through. Posts are bounded by a
// configurable timeout (default 10 s) applied as a context deadline; the
// pipe never re-submits a failed transfer — retry and recovery policy
// lives in the layers above.
package transport
