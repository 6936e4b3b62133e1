package proofs

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "github.com/kuip/provable-sdk/internal/errors"
	"github.com/kuip/provable-sdk/pkg/digest"
	"github.com/kuip/provable-sdk/pkg/logger"
	"github.com/kuip/provable-sdk/sdk/go/kayros"
)

// Verdict messages carried in Result.Error.
const (
	MsgMissingAlgorithm = "missing hashAlgorithm"
	MsgMissingHash      = "missing hash"
	MsgRecordNotFound   = "remote record not found"
	MsgNothingToVerify  = "nothing to verify"
)

var (
	// ErrMissingMetadata marks an envelope without hash or hashAlgorithm.
	ErrMissingMetadata = xerrors.New(xerrors.CodeMissingMetadata, "envelope is missing attestation metadata")
	// ErrMismatch marks an envelope whose comparisons did not all succeed.
	ErrMismatch = xerrors.New(xerrors.CodeAttestationFailed, "proof does not match")
)

// Details lists every value the verification derived. Pointer fields are
// nil when the comparison was not attempted.
type Details struct {
	HashMatch    *bool         `json:"hashMatch,omitempty"`
	RemoteMatch  *bool         `json:"remoteMatch,omitempty"`
	ComputedHash digest.Digest `json:"computedHash,omitempty"`
	EnvelopeHash digest.Digest `json:"envelopeHash,omitempty"`
	RemoteHash   digest.Digest `json:"remoteHash,omitempty"`
}

// Result is the verdict of a verification. Error is empty when the proof is
// valid or when it is a plain mismatch.
type Result struct {
	Valid   bool    `json:"valid"`
	Error   string  `json:"error,omitempty"`
	Details Details `json:"details"`

	cause error
}

// Err converts the verdict into an error: nil when valid, a
// MISSING_METADATA, INVALID_INPUT or ATTESTATION_FAILED coded error otherwise.
func (r *Result) Err() error {
	switch {
	case r == nil || r.Valid:
		return nil
	case r.cause != nil:
		return r.cause
	default:
		return ErrMismatch
	}
}

func (r *Result) fail(msg string, cause error) *Result {
	r.Valid = false
	r.Error = msg
	r.cause = cause
	return r
}

// VerifyOptions selects what is compared. A nil Data means no original data
// was supplied; an empty non-nil slice is hashed.
type VerifyOptions struct {
	CheckRemote bool
	Data        []byte
}

// Verifier checks envelopes against supplied data and the authority record.
// It holds no per-call state.
type Verifier struct {
	authority RecordFetcher
	opts      options
}

// NewVerifier returns a Verifier. authority may be nil when remote checks are
// never requested.
func NewVerifier(authority RecordFetcher, opts ...Option) *Verifier {
	return &Verifier{authority: authority, opts: buildOptions("verifier", opts)}
}

// VerifyEnvelope verifies env against its own data field.
func (v *Verifier) VerifyEnvelope(ctx context.Context, env Envelope, checkRemote bool) (*Result, error) {
	opts := VerifyOptions{CheckRemote: checkRemote}
	if env.Data != nil {
		data, err := CanonicalBytes(env.Data)
		if err != nil {
			return nil, err
		}
		opts.Data = data
	}
	return v.Verify(ctx, env, opts)
}

// Verify runs every applicable comparison in order and never stops at the
// first mismatch. A transport failure other than a missing record is
// returned as the error with a nil result.
func (v *Verifier) Verify(ctx context.Context, env Envelope, opts VerifyOptions) (*Result, error) {
	res, err := v.verify(ctx, env, opts)
	if err != nil {
		v.report(OutcomeError)
		v.opts.logger.Warn("verification aborted",
			slog.String("hash", env.Kayros.Hash.String()),
			slog.Any("error", err),
		)
		return nil, err
	}

	outcome := OutcomeInvalid
	if res.Valid {
		outcome = OutcomeValid
	}
	v.report(outcome)
	logger.Audit().Info("proof verified",
		slog.Bool("valid", res.Valid),
		slog.String("hash", env.Kayros.Hash.String()),
		slog.String("algorithm", string(env.Kayros.HashAlgorithm)),
		slog.String("error", res.Error),
		slog.Bool("remote", opts.CheckRemote),
	)
	return res, nil
}

func (v *Verifier) verify(ctx context.Context, env Envelope, opts VerifyOptions) (*Result, error) {
	res := &Result{}
	meta := env.Kayros

	alg := meta.HashAlgorithm
	if alg == "" {
		return res.fail(MsgMissingAlgorithm, xerrors.Wrap(xerrors.CodeMissingMetadata, ErrMissingMetadata, MsgMissingAlgorithm)), nil
	}
	if !alg.Supported() {
		msg := fmt.Sprintf("unsupported hashAlgorithm: %s", alg)
		return res.fail(msg, xerrors.Wrap(xerrors.CodeInvalidInput, digest.ErrUnsupportedAlgorithm, msg)), nil
	}

	if opts.Data != nil {
		computed, err := digest.Bytes(opts.Data, alg)
		if err != nil {
			return nil, err
		}
		res.Details.ComputedHash = computed
	}

	if meta.Hash == "" {
		return res.fail(MsgMissingHash, xerrors.Wrap(xerrors.CodeMissingMetadata, ErrMissingMetadata, MsgMissingHash)), nil
	}
	res.Details.EnvelopeHash = meta.Hash

	compared := 0
	valid := true

	if !res.Details.ComputedHash.IsZero() {
		match := res.Details.ComputedHash.Equal(meta.Hash)
		res.Details.HashMatch = &match
		compared++
		valid = valid && match
	}

	if opts.CheckRemote {
		if v.authority == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "verifier has no authority client for remote checks")
		}
		compared++
		remote, found, err := v.lookup(ctx, meta.Hash)
		if err != nil {
			return nil, err
		}
		if found {
			match := remote.Equal(meta.Hash)
			res.Details.RemoteHash = remote
			res.Details.RemoteMatch = &match
			valid = valid && match
		} else {
			match := false
			res.Details.RemoteMatch = &match
			res.fail(MsgRecordNotFound, xerrors.New(xerrors.CodeNotFound, MsgRecordNotFound))
			valid = false
		}
	}

	if compared == 0 {
		return res.fail(MsgNothingToVerify, xerrors.Wrap(xerrors.CodeInvalidInput, digest.ErrInvalidInput, MsgNothingToVerify)), nil
	}
	res.Valid = valid
	return res, nil
}

// lookup fetches the authority record. A 404 or a record without a data
// item is reported as not found rather than as an error.
func (v *Verifier) lookup(ctx context.Context, d digest.Digest) (digest.Digest, bool, error) {
	rec, err := v.authority.FetchRecord(ctx, d)
	if err != nil {
		if kayros.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	remote, ok := rec.ItemHash()
	return remote, ok, nil
}

func (v *Verifier) report(outcome string) {
	if v.opts.onVerify != nil {
		v.opts.onVerify(outcome)
	}
}
