// Package reddit is the thin API client of the crawler.
//
// It covers the four read calls the crawl needs (listing pages, comment
// trees, placeholder resolution and subreddit about documents), decodes
// the remote kinds into the node types of package models exactly once and
// maps HTTP failures to the error taxonomy:
//
//	client := reddit.NewClient(session, reddit.WithPacer(pacer))
//
//	page, err := client.Listing(ctx, "golang", "new", "", 100)
//	if errors.IsType(err, errors.ErrorTypeAuthFailed) {
//	    // the token was rejected
//	}
//
// Budgeting is the caller's concern: every call made through the client
// must have been admitted by a scheduler first.
package reddit
