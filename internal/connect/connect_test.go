package connect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/garyhukkeri/vectab/internal/storage"
)

func TestParseLocationLocal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")

	loc, err := ParseLocation(dir)
	if err != nil {
		t.Fatalf("ParseLocation() error = %v", err)
	}
	if loc.Remote() {
		t.Error("local path reported as remote")
	}
	if loc.DatabasePath() != filepath.Join(dir, "tables.db") {
		t.Errorf("DatabasePath() = %q", loc.DatabasePath())
	}

	// Missing directories are created on parse.
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}

func TestParseLocationS3(t *testing.T) {
	tests := []struct {
		raw    string
		bucket string
		key    string
	}{
		{"s3://my-bucket/data/prod", "my-bucket", "data/prod/tables.db"},
		{"s3://my-bucket/data/prod/", "my-bucket", "data/prod/tables.db"},
		{"s3://my-bucket", "my-bucket", "tables.db"},
		{"s3://my-bucket/", "my-bucket", "tables.db"},
	}

	for _, tt := range tests {
		loc, err := ParseLocation(tt.raw)
		if err != nil {
			t.Errorf("ParseLocation(%q) error = %v", tt.raw, err)
			continue
		}
		t.Cleanup(func() { os.RemoveAll(loc.Dir) })

		if !loc.Remote() {
			t.Errorf("ParseLocation(%q) not remote", tt.raw)
		}
		if loc.Bucket != tt.bucket || loc.Key != tt.key {
			t.Errorf("ParseLocation(%q) = bucket %q key %q, want %q %q",
				tt.raw, loc.Bucket, loc.Key, tt.bucket, tt.key)
		}
		if loc.Dir == "" {
			t.Errorf("ParseLocation(%q) has no cache dir", tt.raw)
		}
	}
}

func TestParseLocationRejects(t *testing.T) {
	for _, raw := range []string{"", "gs://bucket/x", "http://example.com/db", "s3://"} {
		if _, err := ParseLocation(raw); !errors.Is(err, ErrBadLocation) {
			t.Errorf("ParseLocation(%q) error = %v, want ErrBadLocation", raw, err)
		}
	}
}

func TestProviderCachesConnections(t *testing.T) {
	p := NewProvider(&Credentials{}, storage.Options{}, nil)
	dir := t.TempDir()
	ctx := context.Background()

	first, err := p.Connect(ctx, dir)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	second, err := p.Connect(ctx, dir)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if first != second {
		t.Error("same location returned distinct connections")
	}

	other, err := p.Connect(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if other == first {
		t.Error("distinct locations share a connection")
	}

	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestCredentialsStatic(t *testing.T) {
	var none *Credentials
	if none.Static() {
		t.Error("nil credentials reported static")
	}
	if (&Credentials{AccessKeyID: "AKIA"}).Static() {
		t.Error("key without secret reported static")
	}
	if !(&Credentials{AccessKeyID: "AKIA", SecretAccessKey: "s3cr3t"}).Static() {
		t.Error("full key pair not reported static")
	}
}

func TestCredentialsStringMasksMaterial(t *testing.T) {
	c := &Credentials{
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "s3d00m5day",
		SessionToken:    "t0k3n",
		Region:          "eu-west-1",
	}
	s := c.String()
	for _, secret := range []string{"AKIAEXAMPLE", "s3d00m5day", "t0k3n"} {
		if strings.Contains(s, secret) {
			t.Errorf("String() leaks %q: %s", secret, s)
		}
	}
	if !strings.Contains(s, "eu-west-1") {
		t.Errorf("String() = %q, want region visible", s)
	}
}
