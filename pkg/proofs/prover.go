// Package proofs attests data with the Kayros authority and verifies the
// resulting envelopes.
package proofs

import (
	"context"
	"log/slog"

	"github.com/kuip/provable-sdk/pkg/digest"
	"github.com/kuip/provable-sdk/pkg/logger"
	"github.com/kuip/provable-sdk/sdk/go/kayros"
)

// Submitter sends a digest to the authority. *kayros.Client implements it.
type Submitter interface {
	Submit(ctx context.Context, d digest.Digest) (*kayros.SubmitResponse, error)
}

// RecordFetcher looks up the authority's record for a digest.
// *kayros.Client implements it.
type RecordFetcher interface {
	FetchRecord(ctx context.Context, d digest.Digest) (*kayros.RecordResponse, error)
}

// Authority is the full authority surface.
type Authority interface {
	Submitter
	RecordFetcher
}

// Outcome labels reported to observers.
const (
	OutcomeSubmitted = "submitted"
	OutcomeFailed    = "failed"
	OutcomeValid     = "valid"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

type options struct {
	defaultAlg digest.Algorithm
	logger     *slog.Logger
	onAttest   func(outcome string)
	onVerify   func(outcome string)
}

// Option configures a Prover or a Verifier.
type Option func(*options)

// WithDefaultAlgorithm sets the algorithm used when Attest is called without
// one. Unsupported values are ignored.
func WithDefaultAlgorithm(alg digest.Algorithm) Option {
	return func(o *options) {
		if alg.Supported() {
			o.defaultAlg = alg
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAttestationObserver is called once per attestation with
// OutcomeSubmitted or OutcomeFailed.
func WithAttestationObserver(fn func(outcome string)) Option {
	return func(o *options) {
		o.onAttest = fn
	}
}

// WithVerificationObserver is called once per verification with
// OutcomeValid, OutcomeInvalid or OutcomeError.
func WithVerificationObserver(fn func(outcome string)) Option {
	return func(o *options) {
		o.onVerify = fn
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{defaultAlg: digest.DefaultAlgorithm}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = logger.Named(component)
	}
	return o
}

// Prover hashes data and submits the digest for attestation.
type Prover struct {
	authority Submitter
	opts      options
}

// NewProver returns a Prover submitting through authority.
func NewProver(authority Submitter, opts ...Option) *Prover {
	return &Prover{authority: authority, opts: buildOptions("prover", opts)}
}

// DefaultAlgorithm reports the algorithm used when none is given.
func (p *Prover) DefaultAlgorithm() digest.Algorithm {
	return p.opts.defaultAlg
}

// Attest hashes data with alg and submits the digest. An empty alg selects
// the prover default. Errors from hashing or from the authority are returned
// unchanged.
func (p *Prover) Attest(ctx context.Context, data any, alg digest.Algorithm) (*kayros.SubmitResponse, error) {
	if alg == "" {
		alg = p.opts.defaultAlg
	}
	d, err := digest.Compute(data, alg)
	if err != nil {
		return nil, err
	}
	return p.submit(ctx, d, alg)
}

// AttestBytes attests raw bytes.
func (p *Prover) AttestBytes(ctx context.Context, data []byte, alg digest.Algorithm) (*kayros.SubmitResponse, error) {
	return p.Attest(ctx, data, alg)
}

// AttestString attests the UTF-8 bytes of s.
func (p *Prover) AttestString(ctx context.Context, s string, alg digest.Algorithm) (*kayros.SubmitResponse, error) {
	return p.Attest(ctx, s, alg)
}

// Seal attests data and wraps it in an envelope that VerifyEnvelope accepts.
// Structured values are hashed over their canonical JSON form.
func (p *Prover) Seal(ctx context.Context, data any, alg digest.Algorithm) (*Envelope, error) {
	if alg == "" {
		alg = p.opts.defaultAlg
	}
	stored, err := envelopeData(data)
	if err != nil {
		return nil, err
	}
	canonical, err := CanonicalBytes(stored)
	if err != nil {
		return nil, err
	}
	d, err := digest.Bytes(canonical, alg)
	if err != nil {
		return nil, err
	}
	resp, err := p.submit(ctx, d, alg)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Data: stored,
		Kayros: Metadata{
			Hash:          d,
			HashAlgorithm: alg,
			Timestamp:     &Timestamp{Service: TimestampService, Response: resp.Raw},
		},
	}, nil
}

func (p *Prover) submit(ctx context.Context, d digest.Digest, alg digest.Algorithm) (*kayros.SubmitResponse, error) {
	resp, err := p.authority.Submit(ctx, d)
	if err != nil {
		p.report(OutcomeFailed)
		p.opts.logger.Warn("attestation failed",
			slog.String("hash", d.String()),
			slog.String("algorithm", string(alg)),
			slog.Any("error", err),
		)
		return nil, err
	}
	p.report(OutcomeSubmitted)
	logger.Audit().Info("attestation submitted",
		slog.String("hash", d.String()),
		slog.String("algorithm", string(alg)),
		slog.String("computed_hash_hex", resp.Data.ComputedHashHex),
	)
	return resp, nil
}

func (p *Prover) report(outcome string) {
	if p.opts.onAttest != nil {
		p.opts.onAttest(outcome)
	}
}
