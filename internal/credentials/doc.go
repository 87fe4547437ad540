// Package credentials stores OAuth credentials encrypted at rest.
//
// Token material is sealed with XChaCha20-Poly1305 under a key derived from
// the configured master key; the additional data binds every sealed blob to
// its integration/account pair, so a record copied to another key fails to
// open. Only the OAuth manager reads credentials through this package.
package credentials
