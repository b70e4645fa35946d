// Package output renders the exchange for people: a TX/RX feed on the
// terminal and, optionally, append-only transcripts of both directions.
//
// It only consumes controller events and never touches the channel.
package output
