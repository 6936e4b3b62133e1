package kayros

import (
	"encoding/json"

	"github.com/kuip/provable-sdk/pkg/digest"
)

// SubmitRequest is the body posted to the submission route.
type SubmitRequest struct {
	DataItem string `json:"data_item"`
	DataType string `json:"data_type"`
}

// SubmitData carries the authority's echo of the accepted digest.
type SubmitData struct {
	ComputedHashHex string `json:"computed_hash_hex"`
}

// SubmitResponse is the answer of the submission route.
type SubmitResponse struct {
	Data SubmitData `json:"data"`

	// Raw holds the exact response body so it can be embedded in an envelope.
	Raw json.RawMessage `json:"-"`
}

// RecordData is the stored record. Both fields may be absent when the
// authority holds a partial record or none at all.
type RecordData struct {
	DataItemHex *string `json:"data_item_hex,omitempty"`
	Timestamp   *string `json:"timestamp,omitempty"`
}

// RecordResponse is the answer of the lookup route.
type RecordResponse struct {
	Data RecordData `json:"data"`

	Raw json.RawMessage `json:"-"`
}

// ItemHash returns the stored data item digest, if the record has one.
func (r *RecordResponse) ItemHash() (digest.Digest, bool) {
	if r == nil || r.Data.DataItemHex == nil || *r.Data.DataItemHex == "" {
		return "", false
	}
	return digest.Digest(*r.Data.DataItemHex), true
}

// RecordedAt returns the record timestamp as sent by the authority.
func (r *RecordResponse) RecordedAt() (string, bool) {
	if r == nil || r.Data.Timestamp == nil || *r.Data.Timestamp == "" {
		return "", false
	}
	return *r.Data.Timestamp, true
}
