package server

import (
	"html/template"
	"net/http"
	"strings"
	"time"
)

// DashboardData is rendered by the status page.
type DashboardData struct {
	Enabled       bool
	Packages      int
	Versions      int
	Generation    uint64
	StartedAt     string
	LastIndexedAt string
	FeedURL       string
	ServiceIndex  string
	Version       string
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	snap := s.status.GetStatus()
	base := strings.TrimSuffix(s.cfg.BaseURL, "/")

	data := DashboardData{
		Enabled:      snap.Enabled,
		Packages:     snap.Packages,
		Versions:     snap.Versions,
		Generation:   snap.Generation,
		StartedAt:    snap.StartedAt.Format(time.RFC3339),
		FeedURL:      base + "/feed/packages",
		ServiceIndex: base + "/v3/index.json",
		Version:      s.version,
	}
	if snap.LastIndexedAt != nil {
		data.LastIndexedAt = snap.LastIndexedAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, data); err != nil {
		s.logger.Error("failed to render status page", "error", err)
	}
}

// The page polls /api/status once a second so toggling the feed or pushing
// a package shows up without a reload.
var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>git-pkgs feed</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 48rem; color: #222; }
.badge { display: inline-block; padding: 0.2rem 0.6rem; border-radius: 0.3rem; color: #fff; }
.on { background: #2a7d2a; }
.off { background: #a33; }
table { border-collapse: collapse; margin-top: 1rem; }
td { padding: 0.3rem 1rem 0.3rem 0; }
code { background: #f3f3f3; padding: 0.1rem 0.3rem; }
</style>
</head>
<body>
<h1>git-pkgs feed</h1>
<p>Feed is <span id="state" class="badge {{if .Enabled}}on{{else}}off{{end}}">{{if .Enabled}}enabled{{else}}disabled{{end}}</span></p>
<table>
<tr><td>Packages</td><td id="packages">{{.Packages}}</td></tr>
<tr><td>Versions</td><td id="versions">{{.Versions}}</td></tr>
<tr><td>Generation</td><td id="generation">{{.Generation}}</td></tr>
<tr><td>Started</td><td>{{.StartedAt}}</td></tr>
<tr><td>Last indexed</td><td id="last-indexed">{{if .LastIndexedAt}}{{.LastIndexedAt}}{{else}}never{{end}}</td></tr>
</table>
<h2>Use this feed</h2>
<p>JSON feed: <code>{{.FeedURL}}</code></p>
<p>NuGet source: <code>dotnet nuget add source {{.ServiceIndex}} -n git-pkgs</code></p>
<p><small>version {{.Version}}</small></p>
<script>
async function poll() {
  try {
    const res = await fetch("/api/status");
    if (res.ok) {
      const s = await res.json();
      const state = document.getElementById("state");
      state.textContent = s.enabled ? "enabled" : "disabled";
      state.className = "badge " + (s.enabled ? "on" : "off");
      document.getElementById("packages").textContent = s.packages;
      document.getElementById("versions").textContent = s.versions;
      document.getElementById("generation").textContent = s.generation;
      document.getElementById("last-indexed").textContent = s.last_indexed_at || "never";
    }
  } catch (e) {}
  setTimeout(poll, 1000);
}
setTimeout(poll, 1000);
</script>
</body>
</html>
`))
