package nuget

import (
	"fmt"
	"net/url"
	"strings"
)

// Resolve joins a relative download path onto an absolute server URL. The
// path is appended below the server path, so "http://host:81/nuget" and
// "download/Foo/1.0" give "http://host:81/nuget/download/Foo/1.0". An
// absolute rel is returned as is.
func Resolve(base, rel string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%w: server url %q is not absolute", ErrInvalidURL, base)
	}

	r, err := url.Parse(rel)
	if err != nil {
		return "", fmt.Errorf("%w: download path %q: %w", ErrInvalidURL, rel, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}

	out := u.JoinPath(strings.TrimPrefix(r.EscapedPath(), "/"))
	out.RawQuery = r.RawQuery
	out.Fragment = ""
	return out.String(), nil
}

// DownloadPath expands the {id} and {version} placeholders of a download path
// template.
func DownloadPath(template, id, version string) string {
	return strings.NewReplacer(
		"{id}", url.PathEscape(id),
		"{version}", url.PathEscape(version),
	).Replace(template)
}

// StripToRequestURL reduces u to scheme, host, port, path and query. Userinfo
// and fragment are dropped and existing percent-encoding is kept. Nil,
// relative and non-HTTP URLs give "".
func StripToRequestURL(u *url.URL) string {
	if u == nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

// StripURL parses raw and applies StripToRequestURL. Empty or unparsable
// input gives "".
func StripURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return StripToRequestURL(u)
}
