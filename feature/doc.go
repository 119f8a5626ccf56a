// Package feature defines the sparse feature vectors documents are reduced
// to, and the hashing that folds arbitrary tokens into a fixed feature space.
//
// Vectors are produced once at corpus-build time and are immutable afterwards.
// Each term id occurs at most once per vector; repeated tokens accumulate
// into a single weight.
package feature
