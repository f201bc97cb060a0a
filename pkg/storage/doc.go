// Package storage writes crawl results to the output directory.
//
// A successful task produces one JSON document named after the task's out
// argument, holding the task summary, every post with its nested reply
// tree, per-user and per-word aggregates and any enrichment annotations. A
// failed task produces a document with the same name carrying the summary,
// the failed stage and the error list. Batch runs add batch_manifest.json.
//
// Files are written to a temporary name and renamed into place, so a
// reader never sees a partially written document.
//
// Usage:
//
//	manager, err := storage.NewManager("data_outputs", storage.WithIndent(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	runner := crawler.NewRunner(session, client, budgets, crawler.WithWriter(manager))
package storage
