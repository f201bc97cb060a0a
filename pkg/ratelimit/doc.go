// Package ratelimit accounts for the API's global request quota.
//
// Ledger is the authoritative, file-backed sliding-window counter: a
// record "<count>:<epoch_ms>" is appended per batch of calls, records are
// joined by commas, and anything older than the window is dropped on read.
// Pacer spreads individual calls over time on top of the ledger.
//
//	ledger := ratelimit.NewLedger("requestlog.txt")
//	left, refillIn := ledger.Remaining()
//	if left > 0 {
//	    // issue calls, then
//	    _ = ledger.Commit(n)
//	}
package ratelimit
