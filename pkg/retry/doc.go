// Package retry provides backoff and retry helpers for calls to the text
// enrichment providers, plus the cancellable Wait used wherever the crawler
// sleeps.
//
// Quota-driven waits on the Reddit API are not retries: the scheduler
// decides those. Only enrichment calls go through Do.
//
//	cfg := retry.DefaultConfig().WithContext(ctx)
//	vec, err := retry.DoWithResult(func() ([]float32, error) {
//		return provider.embed(ctx, text)
//	}, cfg)
package retry
