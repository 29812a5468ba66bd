// Package engine holds integration tests that drive a full topology —
// source, interior arrows, and sink — through the real
// topology/scheduler/worker/supervisor stack, in contrast to the
// per-component unit tests living alongside each package. There is no
// production code here: the engine is assembled by the other
// packages; this package only exercises it end to end.
package engine
