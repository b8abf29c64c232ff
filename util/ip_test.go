package util

import (
	"testing"

	"github.com/tj/assert"
)

func TestCanonicalIPv4(t *testing.T) {
	ver, ip, err := CanonicalIP("54.240.197.233")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 4, ver)
	assert.Equal(t, "54.240.197.233", ip)
}

func TestCanonicalIPv6Abbreviations(t *testing.T) {
	expected := "2001:0db8:0000:0000:0000:ff00:0042:8329"
	for _, in := range []string{
		"2001:db8::ff00:42:8329",
		"2001:0db8:0000:0000:0000:ff00:0042:8329",
		"2001:db8:0:0:0:ff00:42:8329",
		"2001:DB8::FF00:42:8329",
	} {
		ver, ip, err := CanonicalIP(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		assert.Equal(t, 6, ver)
		assert.Equal(t, expected, ip, in)
	}
}

func TestCanonicalIPv6Edges(t *testing.T) {
	_, ip, err := CanonicalIP("::1")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "0000:0000:0000:0000:0000:0000:0000:0001", ip)

	_, ip, err = CanonicalIP("fe80::")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "fe80:0000:0000:0000:0000:0000:0000:0000", ip)
}

func TestCanonicalIPInvalid(t *testing.T) {
	for _, in := range []string{"", "1.2.3", "256.1.1.1", "2001:db8:::1", "fe80::1%eth0", "not-an-ip"} {
		_, _, err := CanonicalIP(in)
		assert.Error(t, err, in)
	}
}

func TestStripPort(t *testing.T) {
	assert.Equal(t, "1.2.3.4", StripPort("1.2.3.4:31830"))
	assert.Equal(t, "2001:db8::1", StripPort("[2001:db8::1]:443"))
	assert.Equal(t, "2001:db8::1", StripPort("2001:db8::1:443"))
	assert.Equal(t, "nohost", StripPort("nohost"))
}
