package keys

import (
	"regexp"
	"strings"
	"testing"
)

func TestInfo_Deterministic(t *testing.T) {
	k1 := Info("https://titiler.example.org", "s3://bucket/a.tif")
	k2 := Info("https://titiler.example.org", "s3://bucket/a.tif")
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestInfo_TrailingSlashAndCaseOfBase(t *testing.T) {
	k1 := Info("https://TiTiler.example.org/", "s3://bucket/a.tif")
	k2 := Info("https://titiler.example.org", "s3://bucket/a.tif")
	if k1 != k2 {
		t.Fatalf("base should normalise:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestInfo_DifferentCogsDiffer(t *testing.T) {
	if Info("https://t.example", "s3://a.tif") == Info("https://t.example", "s3://b.tif") {
		t.Fatalf("different cogs must produce different keys")
	}
}

func TestInfo_SharesCogPrefix(t *testing.T) {
	cog := "https://data.example.org/rasters/flood 2020.tif"
	for _, base := range []string{"https://a.example", "http://localhost:8000"} {
		k := Info(base, cog)
		if !strings.HasPrefix(k, CogPrefix(cog)) {
			t.Fatalf("key %s missing prefix %s", k, CogPrefix(cog))
		}
		if !regexp.MustCompile(`^[A-Za-z0-9:_\-]+$`).MatchString(k) {
			t.Fatalf("key contains disallowed characters: %s", k)
		}
	}
}
