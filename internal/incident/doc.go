// Package incident reconstructs readable incident messages from the compact
// rows stored by the machine controller.
//
// Each row names a template by index (tidx) and carries an ordered list of
// tagged arguments. Decoding walks the template word by word, replaces every
// printf-style token with the next unconsumed argument, resolves nested
// string references through the text dictionary, substitutes user names for
// numeric user IDs and classifies severity colors.
//
// # Tokens
//
// A word may hold several adjacent tokens ("%08d%s"). Each token is "%"
// followed by a run of non-"%" characters:
//
//	%d, %08d      integer, optionally zero padded to a width
//	%s            string reference resolved through the dictionary
//	%f, %.2f      real, optionally with a precision
//
// A token may end with a decimal positional suffix ("%s0", "%d1."). When the
// suffix equals the number of arguments consumed so far it is dropped from
// the output. Otherwise it is kept verbatim and reported as a
// POSITION_MISMATCH anomaly.
//
// Arguments are consumed strictly front to back through an ArgCursor; the
// underlying slice is never modified.
//
// # Failures
//
// Decoding never returns an error. Lookup misses and argument underflow are
// recorded as DecodeError values on the DecodedIncident, so one malformed
// row cannot abort a batch.
package incident
