// Package api exposes digest, proof, attestation, verification and record
// lookup endpoints over HTTP. Routes are guarded by internal/auth API keys
// when any are configured.
package api
