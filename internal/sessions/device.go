package sessions

import (
	"net"
	"net/http"
	"strings"
)

const maxUserAgent = 512

type uaRule struct {
	token string
	name  string
}

// Order matters: Edge and Opera embed "Chrome", Chrome embeds "Safari".
var browserRules = []uaRule{
	{"edg/", "Edge"},
	{"opr/", "Opera"},
	{"opera", "Opera"},
	{"samsungbrowser", "Samsung Internet"},
	{"firefox/", "Firefox"},
	{"fxios", "Firefox"},
	{"crios", "Chrome"},
	{"chrome/", "Chrome"},
	{"safari/", "Safari"},
	{"curl/", "curl"},
	{"postman", "Postman"},
}

var osRules = []uaRule{
	{"windows", "Windows"},
	{"iphone", "iOS"},
	{"ipad", "iOS"},
	{"android", "Android"},
	{"cros", "ChromeOS"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"linux", "Linux"},
}

// ParseUserAgent classifies a User-Agent header into device type, browser and OS.
func ParseUserAgent(ua string) DeviceInfo {
	if len(ua) > maxUserAgent {
		ua = ua[:maxUserAgent]
	}
	lower := strings.ToLower(ua)
	info := DeviceInfo{
		DeviceType: "desktop",
		Browser:    match(lower, browserRules),
		OS:         match(lower, osRules),
		UserAgent:  ua,
	}
	switch {
	case lower == "":
		info.DeviceType = "unknown"
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		info.DeviceType = "tablet"
	case strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"):
		info.DeviceType = "tablet"
	case strings.Contains(lower, "mobi") || strings.Contains(lower, "iphone"):
		info.DeviceType = "mobile"
	case strings.Contains(lower, "bot") || strings.Contains(lower, "curl/") || strings.Contains(lower, "postman"):
		info.DeviceType = "api"
	}
	return info
}

func match(lower string, rules []uaRule) string {
	for _, r := range rules {
		if strings.Contains(lower, r.token) {
			return r.name
		}
	}
	return "Other"
}

// DeviceFromRequest builds DeviceInfo for r. The location is read from
// locationHeader, typically set by the edge proxy.
func DeviceFromRequest(r *http.Request, locationHeader string) DeviceInfo {
	info := ParseUserAgent(r.UserAgent())
	info.IP = ClientIP(r)
	if locationHeader != "" {
		info.Location = strings.TrimSpace(r.Header.Get(locationHeader))
	}
	return info
}

// ClientIP strips the port from RemoteAddr. chi's RealIP middleware has
// already applied forwarding headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
