// Package core runs the inventory refresh cycle.
//
// The package sits between the sheet source and the HTTP layer. It can be
// driven by the web server, the background poller, or tests without
// modification.
//
// # Refresh
//
// A refresh moves through these steps:
//
//  1. Acquire a slot from the [FetchLimiter]
//  2. Reserve a sequence number with [Store.Begin]
//  3. Fetch the sheet text through the configured [Fetcher]
//  4. Parse it with the effective column mapping (configured letters
//     overlaid by stored ones)
//  5. Commit the result with [Store.Commit]
//
// Any failure leaves the previous snapshot in place. A refresh that is
// overtaken by a later one fails with [ErrStaleSnapshot] and is discarded.
//
// # Overrides
//
// [Service.Inventory] applies per-item overrides on read: hidden items are
// dropped, hidden fields are blanked and image URLs are replaced. Stats
// are computed over the visible records so hidden quantities do not
// count.
//
// # Error Messages
//
// [MapError] turns internal errors into a code and a message safe to show
// to users.
package core
