// Package audio converts runtime output events into absolute-seconds wire
// records for the external DSP host.
//
// The bridge is driven by the host's audio clock callback: each callback
// opens a lookahead window, pulls the matching tick range from the
// runtime, maps values through the sample table and the per-value param
// tables, and hands encoded records to the evaluator. A tick watermark
// guarantees that overlapping windows never emit the same event twice;
// late, oversize, and overflow events drop with warnings and scheduling
// continues.
package audio
