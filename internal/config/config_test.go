package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kuip/provable-sdk/pkg/digest"
	"github.com/kuip/provable-sdk/sdk/go/kayros"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "provable.yaml", `
authority:
  base_url: http://localhost:7000
  default_algorithm: sha256
queue:
  driver: Redis
  workers: 4
log:
  level: debug
  audit:
    enabled: true
    path: logs/audit.log
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Authority.BaseURL != "http://localhost:7000" {
		t.Fatalf("unexpected base url %q", cfg.Authority.BaseURL)
	}
	if cfg.Authority.DataType != kayros.DataType || cfg.Authority.LookupRoute != kayros.LookupRoute {
		t.Fatalf("protocol defaults not applied: %+v", cfg.Authority)
	}
	if cfg.Authority.Algorithm() != digest.SHA256Algorithm {
		t.Fatalf("unexpected algorithm %q", cfg.Authority.Algorithm())
	}
	if cfg.Authority.Timeout() != kayros.DefaultHTTPTimeout {
		t.Fatalf("unexpected timeout %s", cfg.Authority.Timeout())
	}
	if cfg.Queue.Driver != QueueRedis || cfg.Queue.Workers != 4 || cfg.Queue.RabbitMQ.Prefetch != 4 {
		t.Fatalf("unexpected queue config %+v", cfg.Queue)
	}
	if cfg.Queue.Redis.BlockWait() != 5*time.Second {
		t.Fatalf("unexpected block wait %s", cfg.Queue.Redis.BlockWait())
	}
	if want := filepath.Join(filepath.Dir(path), "logs/audit.log"); cfg.Log.Audit.Path != want {
		t.Fatalf("audit path should be resolved against the config dir: %q", cfg.Log.Audit.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Log.Level)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "provable.json", `{"server":{"address":":9999"},"metrics":{"enabled":true}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9999" || !cfg.Metrics.Enabled || cfg.Metrics.Address != ":9090" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Queue.Driver != QueueMemory {
		t.Fatalf("unexpected queue driver %q", cfg.Queue.Driver)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "provable.yaml", "authority:\n  base_url: http://file\n")
	t.Setenv("PROVABLE_AUTHORITY_BASE_URL", "http://env")
	t.Setenv("PROVABLE_QUEUE_REDIS_DB", "3")
	t.Setenv("PROVABLE_LOG_OUTPUTS", "stdout,stderr")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Authority.BaseURL != "http://env" {
		t.Fatalf("env should win, got %q", cfg.Authority.BaseURL)
	}
	if cfg.Queue.Redis.DB != 3 {
		t.Fatalf("unexpected redis db %d", cfg.Queue.Redis.DB)
	}
	if len(cfg.Log.OutputPaths) != 2 || cfg.Log.OutputPaths[1] != "stderr" {
		t.Fatalf("unexpected outputs %v", cfg.Log.OutputPaths)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"short data type":   "authority:\n  data_type: abc\n",
		"non hex data type": "authority:\n  data_type: gggg000000000000000000000000000000000000000000000000000000000000\n",
		"unknown algorithm": "authority:\n  default_algorithm: md5\n",
		"unknown driver":    "queue:\n  driver: kafka\n",
		"bad webhook":       "alerting:\n  webhook_url: ftp://example\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, "provable.yaml", body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PROVABLE_AUTHORITY_DEFAULT_ALGORITHM", "sha256")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Authority.Algorithm() != digest.SHA256Algorithm {
		t.Fatalf("unexpected algorithm %q", cfg.Authority.DefaultAlgorithm)
	}
	if cfg.Authority.ClientConfig() != kayros.DefaultConfig() {
		t.Fatalf("unexpected client config %+v", cfg.Authority.ClientConfig())
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestShippedConfigIsValid(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "provable.yaml"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if cfg.Authority.ClientConfig() != kayros.DefaultConfig() {
		t.Fatalf("shipped authority settings drifted from the SDK defaults: %+v", cfg.Authority.ClientConfig())
	}
	if !cfg.Log.Audit.Enabled || !filepath.IsAbs(cfg.Log.Audit.Path) {
		t.Fatalf("unexpected audit config %+v", cfg.Log.Audit)
	}
}

func TestAPIKeysFromYAML(t *testing.T) {
	path := writeFile(t, "provable.yaml", `
server:
  api_keys:
    worker:
      token: w-secret
      permissions: [attestations:write]
    admin:
      token: a-secret
      permissions: ["*"]
`)
	t.Setenv("PROVABLE_SERVER_ADDRESS", ":7070")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	keys := cfg.Server.Keys()
	if len(keys) != 2 || keys[0].Name != "admin" || keys[1].Name != "worker" || keys[1].Token != "w-secret" {
		t.Fatalf("unexpected keys %+v", keys)
	}
	if cfg.Server.Address != ":7070" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
}
