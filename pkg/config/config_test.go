package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  address: 127.0.0.1
  port: 9090
  db_path: /var/lib/personaproxy
logging:
  level: debug
proxy:
  queue_capacity: 256
  post_timeout: 45s
  max_message_bytes: 64KB
sink:
  rps: 4.5
  burst: 8
retention:
  enabled: true
  cron: "0 3 * * *"
  period: 720h
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("addr = %s", cfg.Addr())
	}
	if cfg.Proxy.QueueCapacity != 256 {
		t.Fatalf("queue capacity = %d", cfg.Proxy.QueueCapacity)
	}
	if cfg.Proxy.PostTimeout.Duration() != 45*time.Second {
		t.Fatalf("post timeout = %v", cfg.Proxy.PostTimeout.Duration())
	}
	if cfg.Proxy.MaxMessageBytes.Int64() != 64000 {
		t.Fatalf("max message bytes = %d", cfg.Proxy.MaxMessageBytes.Int64())
	}
	if cfg.Sink.RPS != 4.5 || cfg.Sink.Burst != 8 {
		t.Fatalf("sink = %+v", cfg.Sink)
	}
	if !cfg.Retention.Enabled || cfg.Retention.Cron != "0 3 * * *" {
		t.Fatalf("retention = %+v", cfg.Retention)
	}
}

func TestAddrDefaults(t *testing.T) {
	cfg := &Config{}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("addr = %s", cfg.Addr())
	}
}

func TestDurationNumericSeconds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("proxy:\n  post_timeout: 30\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Proxy.PostTimeout.Duration() != 30*time.Second {
		t.Fatalf("post timeout = %v", cfg.Proxy.PostTimeout.Duration())
	}
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("PERSONAPROXY_ADDR", "10.0.0.1:7070")
	t.Setenv("PERSONAPROXY_DB_PATH", "/tmp/ppdb")
	t.Setenv("PERSONAPROXY_SINK_RPS", "2.5")
	t.Setenv("PERSONAPROXY_RETENTION_ENABLED", "true")

	cfg, used := ParseConfigEnvs()
	if !used {
		t.Fatal("env not detected")
	}
	if cfg.Server.Address != "10.0.0.1" || cfg.Server.Port != 7070 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Server.DBPath != "/tmp/ppdb" {
		t.Fatalf("db path = %s", cfg.Server.DBPath)
	}
	if cfg.Sink.RPS != 2.5 {
		t.Fatalf("rps = %v", cfg.Sink.RPS)
	}
	if !cfg.Retention.Enabled {
		t.Fatal("retention not enabled")
	}
}

func TestLoadEffectiveConfigPrefersFile(t *testing.T) {
	fileCfg := &Config{}
	fileCfg.Server.Address = "file-host"
	fileCfg.Server.Port = 1111
	fileCfg.Server.DBPath = "/file/db"
	envCfg := &Config{}
	envCfg.Server.Address = "env-host"
	envCfg.Server.DBPath = "/env/db"

	res, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, fileCfg, true, envCfg)
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if res.Source != "config" || res.DBPath != "/file/db" {
		t.Fatalf("res = %+v", res)
	}

	res, err = LoadEffectiveConfig(Flags{Set: map[string]bool{}}, &Config{}, false, envCfg)
	if err != nil {
		t.Fatalf("effective env: %v", err)
	}
	if res.Source != "env" || res.DBPath != "/env/db" {
		t.Fatalf("res = %+v", res)
	}
}

func TestLoadEffectiveConfigFlagsWin(t *testing.T) {
	flags := Flags{Addr: ":9000", DB: "/flag/db", Set: map[string]bool{"addr": true, "db": true}}
	res, err := LoadEffectiveConfig(flags, &Config{}, true, &Config{})
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if res.Source != "flags" || res.Addr != ":9000" || res.DBPath != "/flag/db" {
		t.Fatalf("res = %+v", res)
	}
}

func TestExplicitConfigMustExist(t *testing.T) {
	flags := Flags{Config: "/nope/config.yaml", Set: map[string]bool{"config": true}}
	if _, err := LoadEffectiveConfig(flags, &Config{}, false, &Config{}); err == nil {
		t.Fatal("missing explicit config not rejected")
	}
}
