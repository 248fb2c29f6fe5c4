// Package embedder turns text into fingerprints through an ordered chain of
// embedding providers.
//
// # Basic Usage
//
//	chain, err := embedder.NewChain(embedder.ChainFromEnv())
//	if err != nil {
//	    return err
//	}
//
//	gw, err := embedder.NewGateway(chain,
//	    embedder.WithCache(cache.NewFingerprintCache(10000, time.Hour, nil, logger)),
//	    embedder.WithConcurrency(8),
//	    embedder.WithLogger(logger),
//	)
//	defer gw.Close()
//
//	fp, err := gw.Embed(ctx, "pure being, without any further determination")
//	fmt.Printf("%s/%s: %d dims\n", fp.Provider, fp.Model, fp.Dimension)
//
// # Fallback
//
// Providers are tried strictly in order. A timeout, quota error or malformed
// response (wrong vector count or dimension) is logged at Warn and recorded
// as a FallbackEvent on the fingerprint that eventually succeeds. When every
// provider fails the gateway returns *ExhaustedError:
//
//	if errors.Is(err, embedder.ErrAllProvidersExhausted) {
//	    var ex *embedder.ExhaustedError
//	    errors.As(err, &ex)
//	    for _, pe := range ex.Errors {
//	        log.Printf("%s: %v", pe.Provider, pe.Err)
//	    }
//	}
//
// Cancelling the caller's context aborts immediately without trying the
// remaining providers.
//
// # Batching
//
// EmbedBatch serves a whole batch from one provider so all fingerprints share
// a dimensionality. Providers implementing BatchEmbedder receive chunks of up
// to the configured batch size; others are called once per text in order.
//
// # Caching
//
// Fingerprints are cached under sha256(normalized text, provider, model).
// Before any network call the gateway checks the cache for every provider in
// chain order.
//
// # Providers
//
//   - jina, openai: HTTP JSON with exponential backoff retry
//   - ollama, openai-compatible: langchaingo clients for self-hosted models
//   - local: deterministic feature hashing, offline
//
// The chain is selected from CONCORDANCE_EMBEDDING_PROVIDERS, or detected
// from JINA_API_KEY and OPENAI_API_KEY, always ending with local.
//
// Inputs longer than a provider's MaxInputTokens (words) are truncated to
// the first N words and the fingerprint records Truncated and OriginalTokens.
package embedder
