package fetch

import (
	"fmt"
	"math/rand"
	"net/http"
)

// browserProfile is one entry in the User-Agent rotation.
type browserProfile struct {
	version  int    // Chrome major version
	platform string // sec-ch-ua-platform value
	uaOS     string // OS segment of the User-Agent string
	weight   int
}

// The rotation covers the Chrome 132-136 family across the three desktop
// platforms, weighted to match real-world traffic (Windows ~55%,
// macOS ~35%, Linux ~10%).
var profiles = []browserProfile{
	{132, "Windows", "Windows NT 10.0; Win64; x64", 11},
	{133, "Windows", "Windows NT 10.0; Win64; x64", 11},
	{134, "Windows", "Windows NT 10.0; Win64; x64", 11},
	{135, "Windows", "Windows NT 10.0; Win64; x64", 11},
	{136, "Windows", "Windows NT 10.0; Win64; x64", 11},
	{132, "macOS", "Macintosh; Intel Mac OS X 10_15_7", 7},
	{133, "macOS", "Macintosh; Intel Mac OS X 10_15_7", 7},
	{134, "macOS", "Macintosh; Intel Mac OS X 10_15_7", 7},
	{135, "macOS", "Macintosh; Intel Mac OS X 10_15_7", 7},
	{136, "macOS", "Macintosh; Intel Mac OS X 10_15_7", 7},
	{132, "Linux", "X11; Linux x86_64", 2},
	{133, "Linux", "X11; Linux x86_64", 2},
	{134, "Linux", "X11; Linux x86_64", 2},
	{135, "Linux", "X11; Linux x86_64", 2},
	{136, "Linux", "X11; Linux x86_64", 2},
}

var totalWeight = func() int {
	t := 0
	for _, p := range profiles {
		t += p.weight
	}
	return t
}()

// pickProfile selects a weighted-random browser profile.
func pickProfile() browserProfile {
	n := rand.Intn(totalWeight)
	for _, p := range profiles {
		n -= p.weight
		if n < 0 {
			return p
		}
	}
	return profiles[0]
}

func (p browserProfile) userAgent() string {
	return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
		p.uaOS, p.version)
}

// notABrand returns the grease brand matching the Chrome release train:
// v8 for 132-133, v99 for 134-135, v24 for 136 and later.
func (p browserProfile) notABrand() string {
	switch {
	case p.version <= 133:
		return `"Not A(Brand";v="8"`
	case p.version <= 135:
		return `"Not)A;Brand";v="99"`
	default:
		return `"Not.A/Brand";v="24"`
	}
}

func (p browserProfile) secCHUA() string {
	return fmt.Sprintf(`"Chromium";v="%d", "Google Chrome";v="%d", %s`, p.version, p.version, p.notABrand())
}

// applyBrowserHeaders sets a realistic navigation header set on req. Caller
// headers are applied afterwards and override the defaults.
func applyBrowserHeaders(req *http.Request, extra map[string]string) {
	p := pickProfile()

	req.Header.Set("User-Agent", p.userAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Sec-CH-UA", p.secCHUA())
	req.Header.Set("Sec-CH-UA-Mobile", "?0")
	req.Header.Set("Sec-CH-UA-Platform", `"`+p.platform+`"`)
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	for k, v := range extra {
		req.Header.Set(k, v)
	}
}
