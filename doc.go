// Package tsne implements t-distributed Stochastic Neighbor Embedding
// (t-SNE), the building blocks of the q2-tsne plugin.
//
// t-SNE converts pairwise distances into joint probabilities calibrated to a
// target perplexity, then searches for a low-dimensional embedding whose
// Student-t similarities match them by minimizing the Kullback-Leibler
// divergence with momentum gradient descent.
//
// Basic usage:
//
//	cfg := tsne.DefaultConfig()
//	cfg.Perplexity = 20
//	res, err := tsne.Embed(ctx, data, cfg)
//	// res.Embedding[i] holds the coordinates of sample i
//
// For precomputed distance matrices:
//
//	res, err := tsne.EmbedPrecomputed(ctx, distMatrix, n, cfg)
//
// # Methods
//
// By default (Method: "barnes_hut") affinities are restricted to the
// min(n-1, 3*perplexity+1) nearest neighbours of each point and repulsive
// forces are approximated with a space-partitioning tree, which keeps one
// gradient evaluation at O(N log N) for embeddings of up to 3 dimensions.
// MethodExact evaluates every pair:
//
//	cfg.Method = tsne.MethodExact
//
// # Building blocks
//
// The individual stages are exported so that they can be called on their
// own: [JointProbabilities] and [JointProbabilitiesNN] compute P,
// [KLDivergence] and [KLDivergenceBH] evaluate the objective and its
// gradient, and [BinarySearchPerplexity] calibrates conditional
// probabilities row by row.
//
// Progress is reported through the *slog.Logger carried by the context.
// The Verbose settings promote those records from Debug to Info.
package tsne
