package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/kuip/provable-sdk/pkg/proofs"
	"github.com/kuip/provable-sdk/sdk/go/kayros"
)

func main() {
	var (
		mu      sync.Mutex
		records = map[string]string{}
	)
	mux := http.NewServeMux()
	mux.HandleFunc(kayros.SubmitRoute, func(w http.ResponseWriter, r *http.Request) {
		var req kayros.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		records[req.DataItem] = time.Now().UTC().Format(time.RFC3339)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"computed_hash_hex": req.DataItem},
		})
	})
	mux.HandleFunc(kayros.LookupRoute, func(w http.ResponseWriter, r *http.Request) {
		hash := r.URL.Query().Get("hash_item")
		mu.Lock()
		ts, ok := records[hash]
		mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"data_item_hex": hash, "timestamp": ts},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := kayros.DefaultConfig()
	cfg.BaseURL = srv.URL
	client, err := kayros.NewClient(cfg, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload := map[string]any{"invoice": "INV-001", "amount": 42}
	env, err := proofs.NewProver(client).Seal(ctx, payload, "")
	if err != nil {
		panic(err)
	}
	fmt.Printf("sealed payload with %s hash %s\n", env.Kayros.HashAlgorithm, env.Kayros.Hash)

	// Envelopes are usually stored or shipped as JSON and decoded later.
	raw, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	var received proofs.Envelope
	if err := json.Unmarshal(raw, &received); err != nil {
		panic(err)
	}

	verifier := proofs.NewVerifier(client)
	res, err := verifier.VerifyEnvelope(ctx, received, true)
	if err != nil {
		panic(err)
	}
	fmt.Printf("verified: valid=%t remoteMatch=%t\n", res.Valid, *res.Details.RemoteMatch)

	data, err := proofs.CanonicalBytes(map[string]any{"invoice": "INV-001", "amount": 43})
	if err != nil {
		panic(err)
	}
	res, err = verifier.Verify(ctx, received, proofs.VerifyOptions{Data: data})
	if err != nil {
		panic(err)
	}
	fmt.Printf("tampered: valid=%t computed=%s\n", res.Valid, res.Details.ComputedHash)
}
