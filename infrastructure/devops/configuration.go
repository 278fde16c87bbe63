package devops

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

const DefaultParameter = "databases"

type DBEntry struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DSN builds a go-sql-driver DSN for database on this server. Host may carry
// a port; 3306 is assumed otherwise.
func (e DBEntry) DSN(database string) string {
	host := e.Host
	if !strings.Contains(host, ":") {
		host = host + ":3306"
	}
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", e.Username, e.Password, host, database)
}

// ParameterReader is the slice of the SSM client used here.
type ParameterReader interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func ParseDBEntries(raw string) ([]DBEntry, error) {
	var parsed []DBEntry
	if err := yaml.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	return parsed, nil
}

func FindDBEntry(entries []DBEntry, name string) (DBEntry, bool) {
	for _, e := range entries {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return DBEntry{}, false
}

// LoadDBConfig reads the YAML database list from an SSM parameter.
func LoadDBConfig(ctx context.Context, client ParameterReader, paramName string) ([]DBEntry, error) {
	if paramName == "" {
		paramName = DefaultParameter
	}
	if client == nil {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client = ssm.NewFromConfig(cfg)
	}

	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get parameter: %w", err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("parameter %s is empty", paramName)
	}
	return ParseDBEntries(*out.Parameter.Value)
}

// ResolveDSN looks up entry `name` in the parameter and returns the DSN for
// database on it.
func ResolveDSN(ctx context.Context, client ParameterReader, paramName, name, database string) (string, error) {
	entries, err := LoadDBConfig(ctx, client, paramName)
	if err != nil {
		return "", err
	}
	entry, ok := FindDBEntry(entries, name)
	if !ok {
		return "", fmt.Errorf("no database entry named %q in parameter %s", name, paramName)
	}
	return entry.DSN(database), nil
}
