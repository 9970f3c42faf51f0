// Package authn resolves the caller identity of an inbound HTTP request.
//
// Resolution order, first match wins:
//
//  1. Authorization: Bearer <token>, verified against the request's
//     verification config.
//  2. ?access_token=<token>, verified the same way.
//  3. A trusted AccountID seeded into the request context by an upstream
//     stage (WithSeededAccount). The caller becomes
//     AccountID{Subject: "anonymous", Audience: seeded.Audience}. This is the
//     only path that skips verification.
//  4. Otherwise the request is rejected with invalid_authentication.
//
// A resolved identity is recorded into the request's tracectx record and
// active span (account_id, agent_id) and added to the request logger.
// Failures render a 401 JSON body and never reach the inner handler.
package authn
