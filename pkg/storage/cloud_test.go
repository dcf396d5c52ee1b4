package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		in                  string
		scheme, bucket, key string
	}{
		{"/data/exports", "file", "", "/data/exports"},
		{"exports", "file", "", "exports"},
		{"file:///data/exports", "file", "", "/data/exports"},
		{`C:\exports`, "file", "", `C:\exports`},
		{"s3://gis/parcels/out", "s3", "gis", "parcels/out"},
		{"s3://gis", "s3", "gis", ""},
	}
	for _, tt := range tests {
		scheme, bucket, key := ParsePath(tt.in)
		if scheme != tt.scheme || bucket != tt.bucket || key != tt.key {
			t.Errorf("ParsePath(%q) = %q, %q, %q; want %q, %q, %q",
				tt.in, scheme, bucket, key, tt.scheme, tt.bucket, tt.key)
		}
	}
}

func TestOpen_Local(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "geojson")
	s, err := Open(context.Background(), dir, S3Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if s.Scheme() != "file" {
		t.Errorf("Scheme = %q", s.Scheme())
	}
	if got := s.Location("a.geojson"); got != filepath.Join(dir, "a.geojson") {
		t.Errorf("Location = %q", got)
	}
}

func TestOpen_Errors(t *testing.T) {
	for _, dest := range []string{"", "gs://bucket/x", "s3:///nobucket"} {
		if _, err := Open(context.Background(), dest, S3Options{}); err == nil {
			t.Errorf("Open(%q) should fail", dest)
		}
	}
}
