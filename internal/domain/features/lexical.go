// Package features computes the feature vector a prediction backend scores.
package features

import (
	"math"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// LexicalSchema is the schema version produced by Lexical
const LexicalSchema = "lexical-v1"

// Feature names of the lexical-v1 schema
const (
	URLLength            = "url_length"
	DomainLength         = "domain_length"
	PathLength           = "path_length"
	QueryParamCount      = "query_param_count"
	SubdomainCount       = "subdomain_count"
	SuspiciousTLD        = "suspicious_tld"
	HasIPAddress         = "has_ip_address"
	Entropy              = "entropy"
	DigitRatio           = "digit_ratio"
	SpecialCharRatio     = "special_char_ratio"
	HasAtSymbol          = "has_at_symbol"
	HyphenCount          = "hyphen_count"
	BrandInPath          = "brand_in_path"
	PhishingPathKeywords = "phishing_path_keywords"
	FreeHosting          = "free_hosting"
	FreeHostingBrand     = "free_hosting_brand"
	TLDImpersonation     = "subdomain_tld_impersonation"

	CategoricalTLD    = "tld"
	CategoricalScheme = "scheme"
)

var suspiciousTLDs = map[string]bool{
	"tk": true, "ml": true, "ga": true, "cf": true, "gq": true,
	"xyz": true, "top": true, "zip": true, "mov": true, "click": true,
	"country": true, "kim": true, "work": true, "support": true, "rest": true,
}

var freeHostingProviders = []string{
	"000webhostapp.com", "freehostia.com", "freehosting.com",
	"infinityfree.net", "byethost", "weebly.com", "wordpress.com",
	"blogspot.com", "github.io", "netlify.app", "vercel.app",
	"wixsite.com", "webnode.com", "yolasite.com", "webs.com",
	"pages.dev", "firebaseapp.com", "web.app",
}

var brandKeywords = []string{
	"paypal", "amazon", "microsoft", "apple", "google", "norton",
	"mcafee", "chase", "netflix", "facebook", "instagram", "wellsfargo",
	"bankofamerica", "cibc", "rbc",
}

var phishingKeywords = []string{
	"login", "signin", "sign-in", "verify", "account", "update",
	"secure", "banking", "confirm", "password", "wallet", "unlock",
}

// impersonated TLD tokens embedded in subdomain labels, e.g. "paypal-com.evil.app"
var impersonatedTLDs = []string{"com", "net", "org", "gov", "edu"}

// maxPhishingKeywords caps the keyword count feature
const maxPhishingKeywords = 3

// Extractor computes a feature vector for a target
type Extractor interface {
	Schema() string
	Extract(target entity.ScanTarget) (entity.FeatureVector, error)
}

// Lexical derives features from the URL string alone, so the same target
// always yields the same vector.
type Lexical struct{}

// NewLexical creates the lexical extractor
func NewLexical() *Lexical {
	return &Lexical{}
}

// Schema returns the schema version
func (l *Lexical) Schema() string {
	return LexicalSchema
}

// Extract computes the lexical-v1 vector
func (l *Lexical) Extract(target entity.ScanTarget) (entity.FeatureVector, error) {
	u, err := url.Parse(target.URL)
	if err != nil {
		return entity.FeatureVector{}, err
	}

	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(u.EscapedPath())
	full := strings.ToLower(target.URL)
	tld := topLevel(host)
	isIP := net.ParseIP(host) != nil

	brandInHost := containsAny(host, brandKeywords)
	brandInPath := containsAny(path, brandKeywords) && !brandInHost
	freeHosting := containsAny(host, freeHostingProviders)

	numeric := map[string]float64{
		URLLength:            float64(len(target.URL)),
		DomainLength:         float64(len(host)),
		PathLength:           float64(len(u.EscapedPath())),
		QueryParamCount:      float64(len(u.Query())),
		SubdomainCount:       float64(subdomainCount(host, target.RegistrableDomain, isIP)),
		SuspiciousTLD:        boolFloat(suspiciousTLDs[tld]),
		HasIPAddress:         boolFloat(isIP),
		Entropy:              ShannonEntropy(host),
		DigitRatio:           ratio(full, isDigit),
		SpecialCharRatio:     ratio(full, isSpecial),
		HasAtSymbol:          boolFloat(strings.Contains(full, "@")),
		HyphenCount:          float64(strings.Count(host, "-")),
		BrandInPath:          boolFloat(brandInPath),
		PhishingPathKeywords: float64(min(countAny(path, phishingKeywords), maxPhishingKeywords)),
		FreeHosting:          boolFloat(freeHosting),
		FreeHostingBrand:     boolFloat(freeHosting && containsAny(full, brandKeywords)),
		TLDImpersonation:     boolFloat(!isIP && tldImpersonation(host)),
	}
	if isIP {
		tld = ""
	}

	return entity.FeatureVector{
		TargetID:      target.ID,
		SchemaVersion: LexicalSchema,
		Numeric:       numeric,
		Categorical: map[string]string{
			CategoricalTLD:    tld,
			CategoricalScheme: strings.ToLower(u.Scheme),
		},
	}, nil
}

// ShannonEntropy returns the entropy in bits per character of s
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	n := 0
	for _, r := range s {
		counts[r]++
		n++
	}
	// iterate runes of s rather than the map so the float sum is ordered
	seen := make(map[rune]bool, len(counts))
	var h float64
	for _, r := range s {
		if seen[r] {
			continue
		}
		seen[r] = true
		p := float64(counts[r]) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}

func topLevel(host string) string {
	if i := strings.LastIndexByte(host, '.'); i >= 0 {
		return host[i+1:]
	}
	return host
}

func subdomainCount(host, registrable string, isIP bool) int {
	if isIP || registrable == "" || host == registrable {
		return 0
	}
	prefix := strings.TrimSuffix(host, "."+registrable)
	if prefix == host {
		return 0
	}
	return strings.Count(prefix, ".") + 1
}

// tldImpersonation reports a label left of the public suffix that pretends
// to be a domain, such as "wwnorton-com.vercel.app" or "paypal.com.login.example".
func tldImpersonation(host string) bool {
	suffix, _ := publicsuffix.PublicSuffix(host)
	prefix := strings.TrimSuffix(host, "."+suffix)
	if suffix == "" || prefix == host {
		return false
	}
	labels := strings.Split(prefix, ".")
	for i, label := range labels {
		for _, t := range impersonatedTLDs {
			if strings.HasSuffix(label, "-"+t) {
				return true
			}
			if i > 0 && label == t {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func countAny(s string, needles []string) int {
	c := 0
	for _, n := range needles {
		if strings.Contains(s, n) {
			c++
		}
	}
	return c
}

func ratio(s string, pred func(rune) bool) float64 {
	if s == "" {
		return 0
	}
	hits, n := 0, 0
	for _, r := range s {
		n++
		if pred(r) {
			hits++
		}
	}
	return float64(hits) / float64(n)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isSpecial(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', isDigit(r):
		return false
	case r == '.', r == '/', r == ':':
		return false
	default:
		return true
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
