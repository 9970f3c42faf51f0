// Package jws verifies compact JWS bearer tokens against a process-wide,
// read-only verification Config.
//
// A Config maps token issuers to the audiences they may mint tokens for,
// the signing algorithm they use, and their verification key. It is
// loaded once at startup (LoadConfig from a YAML/JSON file, or
// LoadConfigFromSSM from an SSM parameter holding the same document) and
// never mutated afterwards, so any number of goroutines may verify against
// it concurrently.
//
// Document format:
//
//	issuers:
//	  - issuer: iam.svc.example.org
//	    audience: [usr.example.org]
//	    algorithm: ES256
//	    key: keys/iam.public_key.pem   # relative to the document
//	  - issuer: internal
//	    audience: [svc.example.org]
//	    algorithm: HS256
//	    key_pem: "shared-secret"       # inline key material
package jws
