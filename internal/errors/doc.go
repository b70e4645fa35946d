// Package errors defines the failure taxonomy of a duplex pipe exchange.
//
// Every failure in this design is fatal: it either prevents setup or ends
// the exchange loop. Failures are reported as *ChannelError values carrying
// a Kind, the operation that failed and the underlying OS error. All of them
// can be matched with errors.Is against the per-kind sentinels and
// classified with KindOf.
//
// "No data available yet" on the non-blocking inbound read is not part of
// this taxonomy; it is the normal outcome of most polls.
package errors
