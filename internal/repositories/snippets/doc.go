// Package snippets provides the persistence layer for user snippets.
//
// Snippets belong to a category. Listing orders them by usage count and
// then by last update, most relevant first. Masked snippets keep only their
// title in the search index; their content lives in the nonce, ciphertext
// and tag columns and is opened by the vault, never by this package.
package snippets
