// Package mock provides test doubles for the ai interfaces.
//
// MockEmbedder produces deterministic bag-of-words vectors: every lowercase
// word is hashed into one dimension and the result is normalized. Texts that
// share words therefore have a positive dot product, which is enough to
// exercise ranking without a model.
//
//	embedder := mock.NewMockEmbedder()
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("unavailable")
//	}
//	count := embedder.CallCount()
package mock
