package kayros

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/kuip/provable-sdk/pkg/digest"
)

// Auxiliary lightnet routes served by the same authority host.
const (
	routeQueryHashes        = "/api/database/query"
	routeDatabaseStats      = "/api/database/stats"
	routeLatestHashes       = "/api/database/latest"
	routeRecord             = "/api/database/record"
	routeRecordWithPrev     = "/api/database/record-with-prev"
	routeVerifyHash         = "/api/verify-hash"
	routeComputeHashFromHex = "/api/compute-hash-from-hex"
	routeGenerateMerkle     = "/api/merkle/generate-proof"
	routeVerifyMerkle       = "/api/merkle/verify-proof"
)

// APIResponse is the envelope used by the lightnet routes.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DatabaseQuery filters hash records. OrderBy is ts_asc or ts_desc.
type DatabaseQuery struct {
	DataType     *string `json:"data_type,omitempty"`
	HashType     *string `json:"hash_type,omitempty"`
	MinTimestamp *string `json:"min_timestamp,omitempty"`
	MaxTimestamp *string `json:"max_timestamp,omitempty"`
	Limit        int     `json:"limit"`
	Offset       int     `json:"offset"`
	OrderBy      string  `json:"order_by"`
}

// HashRecord is one entry of the authority's hash log.
type HashRecord struct {
	Timestamp string `json:"timestamp"`
	DataType  string `json:"data_type"`
	DataItem  string `json:"data_item"`
	HashType  string `json:"hash_type"`
	HashItem  string `json:"hash_item"`
}

// DatabaseStats summarises the hash log.
type DatabaseStats struct {
	TotalHashes    int64            `json:"total_hashes"`
	CountByType    map[string]int64 `json:"count_by_type"`
	MinTimestamp   string           `json:"min_timestamp"`
	MaxTimestamp   string           `json:"max_timestamp"`
	TimestampRange string           `json:"timestamp_range"`
}

// DatabaseRecord is a full record addressed by its time uuid.
type DatabaseRecord struct {
	DataType    string `json:"data_type"`
	DataItemHex string `json:"data_item_hex"`
	UUIDHex     string `json:"uuid_hex"`
	HashItemHex string `json:"hash_item_hex"`
	PrevHashHex string `json:"prev_hash_hex,omitempty"`
	HashType    string `json:"hash_type"`
	Timestamp   string `json:"timestamp"`
}

// HashVerifyRequest asks the authority to recompute a chained record hash.
// HashType is blake3 or xxh3.
type HashVerifyRequest struct {
	PrevHash string `json:"prev_hash"`
	DataType string `json:"data_type"`
	DataItem string `json:"data_item"`
	UUID     string `json:"uuid"`
	HashType string `json:"hash_type"`
}

// HashVerifyResult is the recomputed hash and the exact input it covered.
type HashVerifyResult struct {
	ComputedHash string `json:"computed_hash"`
	HashInputHex string `json:"hash_input_hex"`
}

// ComputeHashRequest hashes an arbitrary hex input on the authority.
type ComputeHashRequest struct {
	HashInputHex string `json:"hash_input_hex"`
	HashType     string `json:"hash_type"`
}

// GenerateMerkleProofRequest selects the leaf to prove.
type GenerateMerkleProofRequest struct {
	HashItem  string `json:"hash_item"`
	DataType  string `json:"data_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// MerkleProof is an inclusion proof against a stored root.
type MerkleProof struct {
	TargetHashHex   string   `json:"target_hash_hex"`
	DataType        string   `json:"data_type"`
	Timestamp       string   `json:"timestamp"`
	Position        int64    `json:"position"`
	RootHashHex     string   `json:"root_hash_hex"`
	ProofHashesHex  []string `json:"proof_hashes_hex"`
	Levels          int      `json:"levels"`
	StoredRootHex   string   `json:"stored_root_hex"`
	GeneratedAt     string   `json:"generated_at"`
	LightnetVersion string   `json:"lightnet_version"`
	ProofFormat     string   `json:"proof_format"`
}

// VerifyMerkleProofRequest replays a proof on the authority.
type VerifyMerkleProofRequest struct {
	TargetHashHex  string   `json:"target_hash_hex"`
	ProofHashesHex []string `json:"proof_hashes_hex"`
	Levels         int      `json:"levels"`
	Position       int64    `json:"position"`
	RootHashHex    string   `json:"root_hash_hex"`
}

// MerkleProofVerificationResult is the authority's verdict on a proof.
type MerkleProofVerificationResult struct {
	Valid           bool   `json:"valid"`
	Message         string `json:"message"`
	ComputedRootHex string `json:"computed_root_hex"`
	StoredRootHex   string `json:"stored_root_hex"`
	TargetHashHex   string `json:"target_hash_hex"`
	Position        int64  `json:"position"`
}

// QueryHashes lists hash records matching query.
func (c *Client) QueryHashes(ctx context.Context, query DatabaseQuery) (*APIResponse[[]HashRecord], error) {
	return postAPI[[]HashRecord](ctx, c, "query_hashes", routeQueryHashes, query)
}

// DatabaseStats returns aggregate counters of the hash log.
func (c *Client) DatabaseStats(ctx context.Context) (*APIResponse[DatabaseStats], error) {
	return getAPI[DatabaseStats](ctx, c, "database_stats", routeDatabaseStats, nil)
}

// LatestHashes returns the most recent records. limit <= 0 uses 50.
func (c *Client) LatestHashes(ctx context.Context, limit int) (*APIResponse[[]HashRecord], error) {
	if limit <= 0 {
		limit = 50
	}
	return getAPI[[]HashRecord](ctx, c, "latest_hashes", routeLatestHashes, url.Values{"limit": {strconv.Itoa(limit)}})
}

// Record fetches a record by its hex uuid.
func (c *Client) Record(ctx context.Context, uuidHex string) (*APIResponse[DatabaseRecord], error) {
	return getAPI[DatabaseRecord](ctx, c, "record", routeRecord, url.Values{"uuid": {uuidHex}})
}

// RecordWithPrevHash fetches a record together with its predecessor hash.
func (c *Client) RecordWithPrevHash(ctx context.Context, uuidHex string) (*APIResponse[DatabaseRecord], error) {
	return getAPI[DatabaseRecord](ctx, c, "record_with_prev", routeRecordWithPrev, url.Values{"uuid": {uuidHex}})
}

// SendSingleHash submits an item under an explicit data type tag, unlike
// Submit which always uses the configured one. The answer uses the lightnet
// envelope.
func (c *Client) SendSingleHash(ctx context.Context, req SubmitRequest) (*APIResponse[SubmitData], error) {
	if !digest.IsHex32(req.DataType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDataType, req.DataType)
	}
	return postAPI[SubmitData](ctx, c, "send_single_hash", c.cfg.SubmitRoute, req)
}

// VerifyHash asks the authority to recompute a chained record hash.
func (c *Client) VerifyHash(ctx context.Context, req HashVerifyRequest) (*APIResponse[HashVerifyResult], error) {
	return postAPI[HashVerifyResult](ctx, c, "verify_hash", routeVerifyHash, req)
}

// ComputeHashFromHex hashes a hex input with the authority's hash function.
func (c *Client) ComputeHashFromHex(ctx context.Context, req ComputeHashRequest) (*APIResponse[HashVerifyResult], error) {
	return postAPI[HashVerifyResult](ctx, c, "compute_hash_from_hex", routeComputeHashFromHex, req)
}

// GenerateMerkleProof requests an inclusion proof for a stored hash.
func (c *Client) GenerateMerkleProof(ctx context.Context, req GenerateMerkleProofRequest) (*APIResponse[MerkleProof], error) {
	return postAPI[MerkleProof](ctx, c, "generate_merkle_proof", routeGenerateMerkle, req)
}

// VerifyMerkleProof asks the authority to check an inclusion proof.
func (c *Client) VerifyMerkleProof(ctx context.Context, req VerifyMerkleProofRequest) (*APIResponse[MerkleProofVerificationResult], error) {
	return postAPI[MerkleProofVerificationResult](ctx, c, "verify_merkle_proof", routeVerifyMerkle, req)
}

func getAPI[T any](ctx context.Context, c *Client, op, route string, query url.Values) (*APIResponse[T], error) {
	var out APIResponse[T]
	if _, err := c.get(ctx, op, route, query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func postAPI[T any](ctx context.Context, c *Client, op, route string, payload any) (*APIResponse[T], error) {
	var out APIResponse[T]
	if _, err := c.post(ctx, op, route, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
