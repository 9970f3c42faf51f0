package jws

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/keithlinneman/svcmw/internal/xerrors"
)

// Format is the encoding of a verification document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", xerrors.Newf("unsupported verification config extension %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}
}

// LoadConfig reads a verification document from disk.
func LoadConfig(path string) (*Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read verification config %s", path)
	}
	return ParseConfig(data, format, filepath.Dir(path))
}

// ParseConfig decodes a verification document. baseDir resolves relative
// key paths.
func ParseConfig(data []byte, format Format, baseDir string) (*Config, error) {
	k := koanf.New(".")

	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return nil, xerrors.Newf("unsupported verification config format %q", format)
	}
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return nil, xerrors.Wrap(err, "parse verification config")
	}

	var doc struct {
		Issuers []IssuerSpec `koanf:"issuers"`
	}
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, xerrors.Wrap(err, "decode verification config")
	}
	return NewConfig(doc.Issuers, baseDir)
}

// ParameterGetter is the subset of the SSM client used here.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadConfigFromSSM fetches a verification document stored in an SSM
// parameter (SecureString is decrypted). Keys must be inline (key_pem) or
// absolute paths.
func LoadConfigFromSSM(ctx context.Context, client ParameterGetter, name string, format Format) (*Config, error) {
	if client == nil {
		return nil, xerrors.New("ssm client is required")
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, xerrors.Newf("SSM parameter %s has no value", name)
	}
	value := strings.TrimSpace(*out.Parameter.Value)
	if value == "" {
		return nil, xerrors.Newf("SSM parameter %s is empty", name)
	}
	return ParseConfig([]byte(value), format, "")
}
