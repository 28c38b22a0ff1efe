package netconfig

import (
	"reflect"
	"testing"
)

func TestDNSIntroducersMergesPresetAndDedupes(t *testing.T) {
	custom := Network{
		Inherit:                  InheritMainnet,
		AdditionalDNSIntroducers: []string{"my-own-introducer.example.com", "dns-introducer.chia.net"},
	}
	got := custom.DNSIntroducers()

	want := append([]string{"my-own-introducer.example.com"}, Mainnet.AdditionalDNSIntroducers...)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DNSIntroducers() = %v, want %v", got, want)
	}
}

func TestDNSIntroducersNoneInheritedIsJustAdditional(t *testing.T) {
	custom := Network{AdditionalDNSIntroducers: []string{"only-mine.example.com"}}
	got := custom.DNSIntroducers()
	if !reflect.DeepEqual(got, []string{"only-mine.example.com"}) {
		t.Fatalf("DNSIntroducers() = %v, want [only-mine.example.com]", got)
	}
}

func TestResolvedPrefixDefaultsToLowercasedTicker(t *testing.T) {
	n := Network{Ticker: "XCH"}
	if got := n.ResolvedPrefix(); got != "xch" {
		t.Fatalf("ResolvedPrefix() = %q, want xch", got)
	}
	n.Prefix = "custom"
	if got := n.ResolvedPrefix(); got != "custom" {
		t.Fatalf("ResolvedPrefix() = %q, want custom", got)
	}
}

func TestByNameMissingReturnsFalse(t *testing.T) {
	l := DefaultList()
	if _, ok := l.ByName("nonexistent"); ok {
		t.Fatal("expected ByName to report false for an unknown network")
	}
	if _, ok := l.ByName("mainnet"); !ok {
		t.Fatal("expected ByName to find the built-in mainnet preset")
	}
}
