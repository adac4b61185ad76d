// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DisplayDomain returns the host of rawURL without a leading "www.".
// Values that do not parse as a URL with a host are returned trimmed.
func DisplayDomain(rawURL string) string {
	host := hostOf(rawURL)
	if host == "" {
		return strings.TrimSpace(rawURL)
	}
	return strings.TrimPrefix(host, "www.")
}

// SiteName returns the registrable domain of rawURL, so that
// "https://m.yelp.com/biz/x" and "https://www.yelp.com/y" both read
// "yelp.com". It falls back to DisplayDomain.
func SiteName(rawURL string) string {
	host := hostOf(rawURL)
	if host == "" {
		return DisplayDomain(rawURL)
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return strings.TrimPrefix(host, "www.")
	}
	return site
}

func hostOf(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
