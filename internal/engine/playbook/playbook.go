// Package playbook holds the built-in analysis query sets.
//
// A playbook is a named list of questions put to the synthesizer. The
// security and performance playbooks drive file analysis; the recent and
// comprehensive playbooks report over whatever has been ingested.
package playbook

import (
	"fmt"
	"sort"
	"strings"

	"github.com/crimson-sun/watchdog/internal/model"
)

// Group is one themed set of queries sharing an analysis context.
type Group struct {
	Name    string
	Queries []string
}

// Context returns the analysis context passed alongside each query.
func (g Group) Context() string {
	return g.Name + " analysis"
}

// Playbook is an ordered set of query groups.
type Playbook struct {
	Name   string
	Groups []Group
	// context overrides the per-group context when set.
	context string
}

// Requests flattens the playbook into analysis requests, group by group.
func (p Playbook) Requests() []model.AnalysisRequest {
	var out []model.AnalysisRequest
	for _, g := range p.Groups {
		ctx := g.Context()
		if p.context != "" {
			ctx = p.context
		}
		for _, q := range g.Queries {
			out = append(out, model.AnalysisRequest{Query: q, Context: ctx})
		}
	}
	return out
}

var (
	security = Group{
		Name: "Security",
		Queries: []string{
			"failed login authentication unauthorized access",
			"error denied forbidden blocked",
			"suspicious malicious attack intrusion",
		},
	}
	performance = Group{
		Name: "Performance",
		Queries: []string{
			"timeout slow performance high memory CPU",
			"database connection error timeout",
			"server error 500 503 504",
		},
	}
	web = Group{
		Name: "Web",
		Queries: []string{
			"error denied forbidden blocked suspicious",
			"attack malicious intrusion exploit",
		},
	}
)

var builtin = map[string]Playbook{
	"security":    {Name: "security", Groups: []Group{security}},
	"performance": {Name: "performance", Groups: []Group{performance}},
	"file":        {Name: "file", Groups: []Group{security, performance}},
	"web":         {Name: "web", Groups: []Group{security, performance, web}},
	"comprehensive": {
		Name: "comprehensive",
		Groups: []Group{
			{Name: "Security Incidents", Queries: []string{
				"failed login authentication brute force",
				"unauthorized access denied forbidden",
				"suspicious malicious attack exploit",
				"privilege escalation sudo admin root",
			}},
			{Name: "System Performance", Queries: []string{
				"high CPU memory usage performance",
				"database connection timeout error",
				"disk space full storage warning",
				"network timeout connection refused",
			}},
			{Name: "Application Errors", Queries: []string{
				"exception error stack trace crash",
				"HTTP 500 502 503 504 error",
				"database query slow timeout",
				"API rate limit exceeded",
			}},
		},
	},
	"recent": {
		Name: "recent",
		Groups: []Group{{
			Name: "Recent activity",
			Queries: []string{
				"failed login authentication error",
				"database connection timeout error",
				"high memory CPU usage performance",
				"access denied forbidden unauthorized",
				"SSL certificate TLS connection error",
			},
		}},
	},
}

// Get returns a built-in playbook by name.
func Get(name string) (Playbook, error) {
	p, ok := builtin[strings.ToLower(name)]
	if !ok {
		return Playbook{}, fmt.Errorf("playbook: unknown playbook %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names lists the built-in playbooks in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ForFile picks the playbook for analyzing a file: web server logs get the
// extra web queries, everything else the security and performance sets.
func ForFile(path string) Playbook {
	lower := strings.ToLower(path)
	for _, hint := range []string{"access", "nginx", "apache", "httpd"} {
		if strings.Contains(lower, hint) {
			return builtin["web"]
		}
	}
	return builtin["file"]
}

// Custom wraps ad hoc queries into a single-group playbook with a shared context.
func Custom(analysisContext string, queries ...string) Playbook {
	return Playbook{
		Name:    "custom",
		Groups:  []Group{{Name: "Custom", Queries: queries}},
		context: analysisContext,
	}
}
