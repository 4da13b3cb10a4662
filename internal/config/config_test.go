package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ocr")
	t.Setenv("OCR_LANGUAGES", "eng+deu, fra")
	t.Setenv("QDRANT_VECTOR_SIZE", "256")
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if want := []string{"eng", "deu", "fra"}; !reflect.DeepEqual(cfg.Languages, want) {
		t.Errorf("Languages = %v, want %v", cfg.Languages, want)
	}
	if cfg.QdrantVectorSize != 256 {
		t.Errorf("QdrantVectorSize = %d", cfg.QdrantVectorSize)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Errorf("unparseable WORKER_CONCURRENCY should fall back to 4, got %d", cfg.WorkerConcurrency)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RedisURL:          "redis://localhost:6379",
			DatabaseURL:       "postgres://localhost/ocr",
			Languages:         []string{"eng"},
			DictionaryBackend: "file",
			WorkerConcurrency: 2,
			QdrantVectorSize:  64,
			ProcessingTimeout: 5000,
			MaxFileSize:       1 << 20,
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: true},
		{name: "no languages", mutate: func(c *Config) { c.Languages = nil }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.DictionaryBackend = "s3" }, wantErr: true},
		{name: "vector not square", mutate: func(c *Config) { c.QdrantVectorSize = 50 }, wantErr: true},
		{name: "vector too large", mutate: func(c *Config) { c.QdrantVectorSize = 4900 }, wantErr: true},
		{name: "short timeout", mutate: func(c *Config) { c.ProcessingTimeout = 10 }, wantErr: true},
		{name: "negative capacity", mutate: func(c *Config) { c.CharsetCapacity = -1 }, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestLoadParams(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("missing file gives defaults", func(t *testing.T) {
		p, err := LoadParams(filepath.Join(dir, "absent.yaml"))
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(p, DefaultParams()) {
			t.Error("expected default params")
		}
	})

	t.Run("yaml overrides one field", func(t *testing.T) {
		p, err := LoadParams(write("p.yaml", "reject:\n  doc_percent: 50\n"))
		if err != nil {
			t.Fatal(err)
		}
		if p.Reject.DocPercent != 50 || p.Reject.BlockPercent != DefaultParams().Reject.BlockPercent {
			t.Errorf("reject = %+v", p.Reject)
		}
	})

	t.Run("toml", func(t *testing.T) {
		p, err := LoadParams(write("p.toml", "[training]\nrebalance = true\ndefault_target = 5\n"))
		if err != nil {
			t.Fatal(err)
		}
		if !p.Training.Rebalance || p.Training.DefaultTarget != 5 {
			t.Errorf("training = %+v", p.Training)
		}
	})

	t.Run("invalid thresholds", func(t *testing.T) {
		if _, err := LoadParams(write("bad.yaml", "diacritics:\n  attached_cert: -9\n")); err == nil {
			t.Error("expected a validation error")
		}
	})

	t.Run("unknown extension", func(t *testing.T) {
		if _, err := LoadParams(write("p.json", "{}")); err == nil {
			t.Error("expected an error")
		}
	})
}
