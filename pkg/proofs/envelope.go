package proofs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	xerrors "github.com/kuip/provable-sdk/internal/errors"
	"github.com/kuip/provable-sdk/pkg/digest"
)

// TimestampService is the service name recorded for authority timestamps.
const TimestampService = "kayros"

// Timestamp carries the authority's answer to the submission, untouched.
type Timestamp struct {
	Service  string          `json:"service"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Metadata is the attestation block of an envelope.
type Metadata struct {
	Hash          digest.Digest    `json:"hash,omitempty"`
	HashAlgorithm digest.Algorithm `json:"hashAlgorithm,omitempty"`
	Timestamp     *Timestamp       `json:"timestamp,omitempty"`
}

// Envelope binds a payload to its attestation.
type Envelope struct {
	Data   any      `json:"data"`
	Kayros Metadata `json:"kayros"`
}

// UnmarshalJSON keeps numbers in data as json.Number so that re-encoding the
// payload reproduces the literals that were hashed.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var wire struct {
		Data   json.RawMessage `json:"data"`
		Kayros Metadata        `json:"kayros"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	e.Kayros = wire.Kayros
	e.Data = nil
	if len(wire.Data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(wire.Data))
	dec.UseNumber()
	return dec.Decode(&e.Data)
}

// CanonicalBytes returns the bytes an envelope payload is hashed over. Text
// is hashed as its UTF-8 bytes and raw bytes as-is. Any other value is
// hashed as its JSON encoding with object keys sorted.
func CanonicalBytes(data any) ([]byte, error) {
	switch v := data.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case nil:
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, digest.ErrInvalidInput, "envelope has no data")
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, fmt.Sprintf("cannot encode %T as json", data))
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "cannot normalise json payload")
	}
	if s, ok := generic.(string); ok {
		return []byte(s), nil
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "cannot normalise json payload")
	}
	return out, nil
}

// envelopeData converts a payload into the form stored in an envelope.
// Binary data has no JSON text form that decodes back to the same bytes, so
// only valid UTF-8 is accepted.
func envelopeData(data any) (any, error) {
	switch v := data.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, xerrors.Wrap(xerrors.CodeInvalidInput, digest.ErrInvalidInput, "raw json payload is malformed")
		}
		return v, nil
	case []byte:
		if !utf8.Valid(v) {
			return nil, xerrors.Wrap(xerrors.CodeInvalidInput, digest.ErrInvalidInput, "binary payload cannot be embedded in an envelope")
		}
		return string(v), nil
	default:
		return data, nil
	}
}
