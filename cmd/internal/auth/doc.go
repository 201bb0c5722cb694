// Package auth issues and verifies the access tokens that identify the signed-in user
// on the HTTP API and the realtime gateway.
//
// Access tokens are PASETO v4.public, signed with an Ed25519 key, and carry the user id
// ("uid") and a client session id ("sid").
package auth
