package ingest

import (
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	crdb "github.com/cockroachdb/errors"
	getter "github.com/hashicorp/go-getter"
)

// forcedGetter matches go-getter's "git::https://..." prefix form. It is
// anchored so IPv6 literals such as http://[::1]/ do not match.
var forcedGetter = regexp.MustCompile(`^([A-Za-z0-9]+)::`)

type sourceKind int

const (
	sourceLocal sourceKind = iota + 1
	sourceRemote
)

type resolvedSource struct {
	kind sourceKind
	// location is an absolute file path for local sources and the full URL
	// for remote ones.
	location string
}

// resolveSource normalizes a caller supplied source. Bare and relative paths
// are detected as file URLs; only file, http and https are accepted.
func resolveSource(raw string) (resolvedSource, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return resolvedSource{}, crdb.New("empty source")
	}
	pwd, err := os.Getwd()
	if err != nil {
		pwd = "/"
	}
	detected, err := getter.Detect(raw, pwd, getter.Detectors)
	if err != nil {
		return resolvedSource{}, crdb.Wrap(err, "detect source")
	}
	if m := forcedGetter.FindStringSubmatch(detected); m != nil {
		return resolvedSource{}, crdb.WithHint(
			crdb.Newf("unsupported source getter %s", crdb.Safe(m[1])),
			"use a file path, file:// URL, or http(s) URL",
		)
	}
	u, err := url.Parse(detected)
	if err != nil {
		return resolvedSource{}, crdb.Wrap(err, "parse source")
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			// file://relative/path style; treat host as the first segment.
			p = filepath.Join(pwd, u.Host, u.Path)
		}
		return resolvedSource{kind: sourceLocal, location: filepath.Clean(p)}, nil
	case "http", "https":
		return resolvedSource{kind: sourceRemote, location: u.String()}, nil
	default:
		return resolvedSource{}, crdb.WithHint(
			crdb.Newf("unsupported source scheme %s", crdb.Safe(u.Scheme)),
			"use a file path, file:// URL, or http(s) URL",
		)
	}
}
