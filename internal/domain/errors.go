package domain

import "errors"

var (
	// ErrInvalidParameter signals a rejected search or ingestion parameter.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrProductNotFound signals a missing product.
	ErrProductNotFound = errors.New("product not found")
	// ErrEmptyProduct signals a product record with no identifier.
	ErrEmptyProduct = errors.New("product id is required")

	// ErrEmbeddingUnavailable signals that the embedding function failed or
	// timed out. Queries recover by degrading to lexical-only retrieval.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")

	// ErrIndexInconsistent signals a product id present in the candidate set
	// but missing from the document store. Fatal for that product only.
	ErrIndexInconsistent = errors.New("index inconsistent")
	// ErrNoRetrieval signals that neither retrieval leg could produce a
	// ranking. The only search failure surfaced to the caller.
	ErrNoRetrieval = errors.New("no retrieval signal available")
)
