package server

import "net/url"

type builtinOrigin struct {
	scheme  string
	host    string
	portAny bool
}

// Origins the bundled clients use: the desktop shell, the local studio dev
// server, and plain localhost.
var builtinOrigins = []builtinOrigin{
	{scheme: "tauri", host: "localhost", portAny: false},
	{scheme: "https", host: "tauri.localhost", portAny: false},
	{scheme: "http", host: "localhost", portAny: true},
	{scheme: "http", host: "127.0.0.1", portAny: true},
	{scheme: "https", host: "localhost", portAny: true},
}

func originAllowed(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return isBuiltinOrigin(u)
}

func isBuiltinOrigin(u *url.URL) bool {
	if u == nil {
		return false
	}
	hostname := u.Hostname()
	port := u.Port()
	for _, b := range builtinOrigins {
		if u.Scheme != b.scheme {
			continue
		}
		if hostname != b.host {
			continue
		}
		if !b.portAny && port != "" {
			continue
		}
		return true
	}
	return false
}
