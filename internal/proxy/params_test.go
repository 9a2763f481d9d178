package proxy

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testAllow(t *testing.T) *Allowlist {
	t.Helper()
	a, err := NewAllowlist([]string{"https://titiler.example.org"})
	if err != nil {
		t.Fatalf("allowlist: %v", err)
	}
	return a
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	var re *RejectError
	if !errors.As(err, &re) {
		t.Fatalf("want RejectError, got %v", err)
	}
	return re.Reason
}

func TestParseStatistics(t *testing.T) {
	a := testAllow(t)
	r := httptest.NewRequest(http.MethodPost,
		"/statistics?titilerUrl=https://titiler.example.org/x&cogUrl=s3://b/a.tif&bidx=2&categorical=1&histogram_bins=20", nil)
	tg, err := ParseStatistics(r, a)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tg.Base != "https://titiler.example.org" {
		t.Fatalf("base got %q", tg.Base)
	}
	want := "bidx=2&categorical=true&histogram_bins=20&url=s3%3A%2F%2Fb%2Fa.tif"
	if got := tg.Query.Encode(); got != want {
		t.Fatalf("query got %q want %q", got, want)
	}
}

func TestParse_Rejections(t *testing.T) {
	a := testAllow(t)
	cases := []struct {
		path   string
		parse  func(*http.Request, *Allowlist) (Target, error)
		reason string
	}{
		{"/info?cogUrl=s3://a", ParseInfo, ReasonMissingParams},
		{"/info?titilerUrl=https://titiler.example.org", ParseInfo, ReasonMissingParams},
		{"/info?titilerUrl=https://evil.example&cogUrl=s3://a", ParseInfo, ReasonInvalidTitilerURL},
		{"/statistics?titilerUrl=https://titiler.example.org&cogUrl=s3://a&bidx=0", ParseStatistics, ReasonInvalidParameter},
		{"/statistics?titilerUrl=https://titiler.example.org&cogUrl=s3://a&histogram_bins=x", ParseStatistics, ReasonInvalidParameter},
		{"/statistics?titilerUrl=https://titiler.example.org&cogUrl=s3://a&categorical=maybe", ParseStatistics, ReasonInvalidParameter},
		{"/point?titilerUrl=https://titiler.example.org&cogUrl=s3://a&lon=181&lat=0", ParsePoint, ReasonInvalidCoordinates},
		{"/point?titilerUrl=https://titiler.example.org&cogUrl=s3://a&lon=10&lat=-90.5", ParsePoint, ReasonInvalidCoordinates},
		{"/point?titilerUrl=https://titiler.example.org&cogUrl=s3://a&lon=NaN&lat=1", ParsePoint, ReasonInvalidCoordinates},
		{"/point?titilerUrl=https://titiler.example.org&cogUrl=s3://a&lat=1", ParsePoint, ReasonInvalidCoordinates},
	}
	for _, c := range cases {
		_, err := c.parse(httptest.NewRequest(http.MethodGet, c.path, nil), a)
		if got := reasonOf(t, err); got != c.reason {
			t.Fatalf("%s: reason got %q want %q", c.path, got, c.reason)
		}
	}
}

func TestParsePoint_Bounds(t *testing.T) {
	a := testAllow(t)
	r := httptest.NewRequest(http.MethodGet,
		"/point?titilerUrl=https://titiler.example.org&cogUrl=s3://a&lon=-180&lat=90", nil)
	tg, err := ParsePoint(r, a)
	if err != nil {
		t.Fatalf("edge coordinates are valid: %v", err)
	}
	if tg.Lon != -180 || tg.Lat != 90 {
		t.Fatalf("got %v,%v", tg.Lon, tg.Lat)
	}
}
