package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	uaChromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	uaFirefoxLinux  = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	uaSafariIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1"
	uaEdgeWindows   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0"
	uaChromeAndroid = "Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36"
)

func TestParse(t *testing.T) {
	tests := []struct {
		ua   string
		want Info
	}{
		{uaChromeWindows, Info{"Chrome", "Windows", "desktop"}},
		{uaFirefoxLinux, Info{"Firefox", "Linux", "desktop"}},
		{uaSafariIPhone, Info{"Safari", "iOS", "mobile"}},
		{uaEdgeWindows, Info{"Edge", "Windows", "desktop"}},
		{uaChromeAndroid, Info{"Chrome", "Android", "mobile"}},
		{"", Info{Unknown, Unknown, Unknown}},
		{"curl/8.4.0", Info{Unknown, Unknown, "desktop"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Parse(tt.ua), tt.ua)
	}
}

func TestConsistent(t *testing.T) {
	chromeWin := Info{Browser: "Chrome", OS: "Windows"}
	assert.True(t, Consistent(chromeWin, chromeWin))
	assert.False(t, Consistent(chromeWin, Info{Browser: "Firefox", OS: "Windows"}))
	assert.False(t, Consistent(chromeWin, Info{Browser: "Chrome", OS: "Linux"}))
	assert.True(t, Consistent(chromeWin, Info{Browser: Unknown, OS: "Windows"}))
	assert.True(t, Consistent(Info{Browser: Unknown, OS: Unknown}, Info{Browser: "Safari", OS: "iOS"}))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(uaChromeWindows, "10.0.0.1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint(uaChromeWindows, "10.0.0.1"))
	assert.NotEqual(t, a, Fingerprint(uaChromeWindows, "10.0.0.2"))
	assert.Equal(t, a[:16], ShortID(a))
}

func TestLocationClass(t *testing.T) {
	assert.Equal(t, LocationLocal, LocationClass("127.0.0.1"))
	assert.Equal(t, LocationLocal, LocationClass("::1"))
	assert.Equal(t, LocationLocal, LocationClass("localhost"))
	assert.Equal(t, LocationInternal, LocationClass("192.168.1.10"))
	assert.Equal(t, LocationInternal, LocationClass("10.1.2.3"))
	assert.Equal(t, LocationExternal, LocationClass("203.0.113.7"))
	assert.Equal(t, LocationUnknown, LocationClass("not-an-ip"))
}

func TestSameNetwork(t *testing.T) {
	assert.True(t, SameNetwork("203.0.113.7", "203.0.113.200"))
	assert.False(t, SameNetwork("203.0.113.7", "203.0.114.7"))
	assert.True(t, SameNetwork("2001:db8:1:2::1", "2001:db8:1:2::ff"))
	assert.False(t, SameNetwork("2001:db8:1:2::1", "2001:db8:1:3::1"))
	assert.True(t, SameNetwork("::ffff:203.0.113.7", "203.0.113.9"))
	assert.False(t, SameNetwork("garbage", "203.0.113.7"))
}
