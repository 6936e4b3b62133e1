package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/kuip/provable-sdk/pkg/proofs"
	"github.com/kuip/provable-sdk/sdk/go/kayros"
)

const helloKeccak = "1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8"

func newAuthority(t *testing.T) *httptest.Server {
	t.Helper()
	var (
		mu      sync.Mutex
		records = map[string]bool{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case kayros.SubmitRoute:
			var req kayros.SubmitRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			records[req.DataItem] = true
			_, _ = w.Write([]byte(`{"data":{"computed_hash_hex":"` + req.DataItem + `"}}`))
		case kayros.LookupRoute:
			hash := r.URL.Query().Get("hash_item")
			if !records[hash] {
				http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"data":{"data_item_hex":"` + hash + `"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"provable"}, args...))
	return out.String(), err
}

func TestHashCommand(t *testing.T) {
	out, err := runApp(t, "hash", "hello")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.Contains(out, helloKeccak) || !strings.Contains(out, `"keccak256"`) {
		t.Fatalf("unexpected output %s", out)
	}

	a, err := runApp(t, "hash", "--json", "-a", "sha256", `{"b":1,"a":[true,null]}`)
	if err != nil {
		t.Fatalf("hash json: %v", err)
	}
	b, err := runApp(t, "hash", "--json", "-a", "sha256", `{ "a": [true, null], "b": 1 }`)
	if err != nil {
		t.Fatalf("hash json: %v", err)
	}
	if a != b {
		t.Fatalf("key order and whitespace should not change the digest:\n%s\n%s", a, b)
	}

	if _, err := runApp(t, "hash", "-a", "md5", "hello"); err == nil {
		t.Fatal("expected unsupported algorithm error")
	}
	if _, err := runApp(t, "hash"); err == nil {
		t.Fatal("expected missing data error")
	}
}

func TestProveThenVerify(t *testing.T) {
	srv := newAuthority(t)
	dir := t.TempDir()

	out, err := runApp(t, "--authority", srv.URL, "prove", "hello")
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	var env proofs.Envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("decode envelope: %v\n%s", err, out)
	}
	if env.Kayros.Hash != helloKeccak || env.Data != "hello" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	path := filepath.Join(dir, "proof.json")
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		t.Fatalf("write envelope: %v", err)
	}

	out, err = runApp(t, "--authority", srv.URL, "verify", "--remote", path)
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"valid": true`) {
		t.Fatalf("expected a valid proof, got %s", out)
	}

	out, err = runApp(t, "verify", "--data", "tampered", path)
	var coder cli.ExitCoder
	if !errors.As(err, &coder) || coder.ExitCode() != 1 {
		t.Fatalf("tampered data should exit 1, got %v", err)
	}
	if !strings.Contains(out, `"valid": false`) {
		t.Fatalf("expected an invalid result, got %s", out)
	}
}

func TestRecordCommand(t *testing.T) {
	srv := newAuthority(t)

	_, err := runApp(t, "--authority", srv.URL, "record", helloKeccak)
	var coder cli.ExitCoder
	if !errors.As(err, &coder) || coder.ExitCode() != 1 {
		t.Fatalf("missing record should exit 1, got %v", err)
	}

	if _, err := runApp(t, "--authority", srv.URL, "prove", "hello"); err != nil {
		t.Fatalf("prove: %v", err)
	}
	out, err := runApp(t, "--authority", srv.URL, "record", helloKeccak)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !strings.Contains(out, helloKeccak) {
		t.Fatalf("unexpected record output %s", out)
	}

	if _, err := runApp(t, "record", "zz"); err == nil {
		t.Fatal("expected malformed hash error")
	}
}

func TestExitCode(t *testing.T) {
	if exitCode(nil) != 0 {
		t.Fatal("nil error should exit 0")
	}
	if exitCode(cli.Exit("", 3)) != 3 {
		t.Fatal("exit coder should keep its code")
	}
	if exitCode(errors.New("boom")) != 1 {
		t.Fatal("plain errors should exit 1")
	}
}
