package http

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/originhttp/origin/test"
)

func TestCompressionRegistrySelect(t *testing.T) {
	r := NewCompressionRegistry()
	r.RegisterDefaults()

	name, codec, ok := r.Select("gzip, deflate", 2048)
	test.AssertTrue(t, true, ok)
	test.AssertTrue(t, "gzip", name)
	test.AssertTrue(t, true, codec != nil)
}

func TestCompressionRegistryRegistrationOrderWinsOverRequestOrder(t *testing.T) {
	r := NewCompressionRegistry()
	r.RegisterDefaults()

	name, _, ok := r.Select("deflate, gzip", 2048)
	test.AssertTrue(t, true, ok)
	test.AssertTrue(t, "gzip", name)
}

func TestCompressionRegistryBelowThreshold(t *testing.T) {
	r := NewCompressionRegistry()
	r.RegisterDefaults()

	_, _, ok := r.Select("gzip", 10)
	test.AssertTrue(t, false, ok)
}

func TestCompressionRegistryFallsBackToDeflate(t *testing.T) {
	r := NewCompressionRegistry()
	r.RegisterDefaults()

	name, _, ok := r.Select("deflate", 600)
	test.AssertTrue(t, true, ok)
	test.AssertTrue(t, "deflate", name)
}

func TestCompressionRegistryNoMatch(t *testing.T) {
	r := NewCompressionRegistry()
	r.RegisterDefaults()

	_, _, ok := r.Select("br", 4096)
	test.AssertTrue(t, false, ok)
}

func TestGzipCodecRoundTrips(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	encoded, err := gzipCodec(content)
	if err != nil {
		t.Fatalf("gzipCodec: %v", err)
	}

	gr, err := gzip.NewReader(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer gr.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(gr); err != nil {
		t.Fatalf("reading gzip stream: %v", err)
	}
	test.AssertTrue(t, string(content), out.String())
}

func TestAdvertiseFragment(t *testing.T) {
	r := NewCompressionRegistry()
	r.RegisterDefaults()
	test.AssertTrue(t, "gzip,deflate", r.AdvertiseFragment())
}
