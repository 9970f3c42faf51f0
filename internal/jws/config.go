package jws

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keithlinneman/svcmw/internal/xerrors"
)

// IssuerSpec is one issuer entry of a verification document.
type IssuerSpec struct {
	Issuer    string   `koanf:"issuer"`
	Audience  []string `koanf:"audience"`
	Algorithm string   `koanf:"algorithm"`
	// Key is a path to the key file. Relative paths resolve against the
	// directory of the document when loaded from a file.
	Key string `koanf:"key"`
	// KeyPEM is inline key material, used when Key is empty.
	KeyPEM string `koanf:"key_pem"`
}

type issuer struct {
	audiences map[string]struct{}
	method    jwt.SigningMethod
	key       any
}

// Config is the verification configuration. Immutable after construction.
type Config struct {
	issuers map[string]*issuer
}

// NewConfig validates specs and parses their keys. baseDir resolves
// relative key paths; "" means the working directory.
func NewConfig(specs []IssuerSpec, baseDir string) (*Config, error) {
	if len(specs) == 0 {
		return nil, xerrors.New("verification config has no issuers")
	}
	c := &Config{issuers: make(map[string]*issuer, len(specs))}
	for i, s := range specs {
		name := strings.TrimSpace(s.Issuer)
		if name == "" {
			return nil, xerrors.Newf("issuer #%d: empty issuer name", i)
		}
		if _, dup := c.issuers[name]; dup {
			return nil, xerrors.Newf("issuer %q: duplicate entry", name)
		}
		if len(s.Audience) == 0 {
			return nil, xerrors.Newf("issuer %q: at least one audience is required", name)
		}
		method := jwt.GetSigningMethod(strings.TrimSpace(s.Algorithm))
		if method == nil || method == jwt.SigningMethodNone {
			return nil, xerrors.Wrapf(ErrUnsupportedAlgorithm, "issuer %q: algorithm %q", name, s.Algorithm)
		}
		material, err := keyMaterial(s, baseDir)
		if err != nil {
			return nil, xerrors.Wrapf(err, "issuer %q", name)
		}
		key, err := parseKey(method, material)
		if err != nil {
			return nil, xerrors.Wrapf(err, "issuer %q: parse %s key", name, method.Alg())
		}
		auds := make(map[string]struct{}, len(s.Audience))
		for _, a := range s.Audience {
			if a = strings.TrimSpace(a); a != "" {
				auds[a] = struct{}{}
			}
		}
		if len(auds) == 0 {
			return nil, xerrors.Newf("issuer %q: at least one audience is required", name)
		}
		c.issuers[name] = &issuer{audiences: auds, method: method, key: key}
	}
	return c, nil
}

// Issuers returns the configured issuer names, sorted.
func (c *Config) Issuers() []string {
	out := make([]string, 0, len(c.issuers))
	for name := range c.issuers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Config) lookup(name string) (*issuer, bool) {
	if c == nil {
		return nil, false
	}
	iss, ok := c.issuers[name]
	return iss, ok
}

func keyMaterial(s IssuerSpec, baseDir string) ([]byte, error) {
	if s.Key == "" {
		if s.KeyPEM == "" {
			return nil, xerrors.New("one of key or key_pem is required")
		}
		return []byte(s.KeyPEM), nil
	}
	p := s.Key
	if !filepath.IsAbs(p) && baseDir != "" {
		p = filepath.Join(baseDir, p)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read key file %s", p)
	}
	return b, nil
}

func parseKey(method jwt.SigningMethod, material []byte) (any, error) {
	switch method.(type) {
	case *jwt.SigningMethodECDSA:
		return jwt.ParseECPublicKeyFromPEM(material)
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		return jwt.ParseRSAPublicKeyFromPEM(material)
	case *jwt.SigningMethodEd25519:
		return jwt.ParseEdPublicKeyFromPEM(material)
	case *jwt.SigningMethodHMAC:
		secret := []byte(strings.TrimSpace(string(material)))
		if len(secret) == 0 {
			return nil, xerrors.New("empty hmac secret")
		}
		return secret, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}
