// Package target normalizes and validates URLs before they are scanned.
package target

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

var blockedSuffixes = []string{".local", ".internal", ".corp", ".localhost"}

var blockedNetworks = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// Normalize turns a raw URL into a ScanTarget.
// Scheme defaults to https, host is lowercased, default ports and fragments are dropped.
func Normalize(raw string) (entity.ScanTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return entity.ScanTarget{}, fmt.Errorf("%w: empty url", entity.ErrInvalidTarget)
	}

	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") && !strings.Contains(lower, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return entity.ScanTarget{}, fmt.Errorf("%w: %v", entity.ErrInvalidTarget, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}

	hostport := host
	if strings.Contains(host, ":") {
		hostport = "[" + host + "]"
	}
	if port != "" {
		hostport = net.JoinHostPort(host, port)
	}
	u.Host = hostport
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if u.Path == "" {
		u.Path = "/"
	}

	if err := Validate(u); err != nil {
		return entity.ScanTarget{}, err
	}

	normalized := u.String()
	registrable := host
	if net.ParseIP(host) == nil {
		if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			registrable = etld1
		}
	}

	return entity.ScanTarget{
		ID:                Hash(normalized),
		URL:               normalized,
		Host:              host,
		RegistrableDomain: registrable,
	}, nil
}

// Validate rejects URLs that must never be fetched or scored
func Validate(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: invalid protocol %q", entity.ErrInvalidTarget, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: no hostname", entity.ErrInvalidTarget)
	}
	if host == "localhost" || host == "0.0.0.0" {
		return fmt.Errorf("%w: localhost is not allowed", entity.ErrInvalidTarget)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: %s domains are not allowed", entity.ErrInvalidTarget, suffix)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, n := range blockedNetworks {
			if n.Contains(ip) {
				return fmt.Errorf("%w: private or internal address", entity.ErrInvalidTarget)
			}
		}
	}

	return nil
}

// Hash returns the identity hash used as target ID
func Hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
