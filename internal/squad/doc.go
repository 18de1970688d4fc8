// Package squad reads SQuAD datasets and precomputed features, turns span
// logits into answer text and scores predictions with the official
// evaluation script.
//
// Tokenization and feature extraction happen outside this repository.
// Features are consumed as JSON Lines, one object per feature, in the
// layout produced by the reference BERT SQuAD preprocessing (see Feature).
package squad
