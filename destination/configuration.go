// Package destination holds warehouse client configurations that parents hand
// to worker processes. They travel as synth records, so a worker built
// without this package still receives them intact and can pass them on.
package destination

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/richinsley/venvpipe/synth"
)

// Record names.
const (
	CredentialsName       = "destination.Credentials"
	PostgresConfigName    = "destination.PostgresClientConfiguration"
	RedshiftConfigName    = "destination.RedshiftClientConfiguration"
	defaultConnectTimeout = 15
)

// Default ports.
const (
	PostgresPort = 5432
	RedshiftPort = 5439
)

// Credentials locates and authenticates against a Postgres compatible server.
type Credentials struct {
	Database       string `toml:"database"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	ConnectTimeout int    `toml:"connect_timeout"`
}

// DSN returns a keyword/value connection string.
func (c Credentials) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s connect_timeout=%d",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.ConnectTimeout)
}

// URL returns a postgresql:// connection URL.
func (c Credentials) URL() string {
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"connect_timeout": {strconv.Itoa(c.ConnectTimeout)}}.Encode(),
	}
	return u.String()
}

// String never includes the password.
func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.Username, c.Host, c.Port, c.Database)
}

func (c Credentials) RecordName() string {
	return CredentialsName
}

func (c Credentials) RecordFields() []synth.Field {
	return []synth.Field{
		{Name: "database", Value: c.Database},
		{Name: "username", Value: c.Username},
		{Name: "password", Value: c.Password},
		{Name: "host", Value: c.Host},
		{Name: "port", Value: c.Port},
		{Name: "connect_timeout", Value: c.ConnectTimeout},
	}
}

// PostgresClientConfiguration configures a Postgres destination client.
type PostgresClientConfiguration struct {
	DestinationName   string      `toml:"-"`
	DefaultSchemaName string      `toml:"dataset_name"`
	CreateIndexes     bool        `toml:"create_indexes"`
	Credentials       Credentials `toml:"credentials"`
}

// NewPostgresClientConfiguration returns a configuration with defaults set.
func NewPostgresClientConfiguration() PostgresClientConfiguration {
	return PostgresClientConfiguration{
		DestinationName: "postgres",
		CreateIndexes:   true,
		Credentials: Credentials{
			Port:           PostgresPort,
			ConnectTimeout: defaultConnectTimeout,
		},
	}
}

func (c PostgresClientConfiguration) RecordName() string {
	return PostgresConfigName
}

func (c PostgresClientConfiguration) RecordFields() []synth.Field {
	return []synth.Field{
		{Name: "destination_name", Value: c.DestinationName},
		{Name: "default_schema_name", Value: c.DefaultSchemaName},
		{Name: "create_indexes", Value: c.CreateIndexes},
		{Name: "credentials", Value: c.Credentials},
	}
}

// RedshiftClientConfiguration is a Postgres configuration pointed at Redshift.
type RedshiftClientConfiguration struct {
	PostgresClientConfiguration
}

// NewRedshiftClientConfiguration returns a configuration with Redshift
// defaults set.
func NewRedshiftClientConfiguration() RedshiftClientConfiguration {
	c := NewPostgresClientConfiguration()
	c.DestinationName = "redshift"
	c.Credentials.Port = RedshiftPort
	return RedshiftClientConfiguration{PostgresClientConfiguration: c}
}

func (c RedshiftClientConfiguration) RecordName() string {
	return RedshiftConfigName
}

func init() {
	synth.Register(CredentialsName, func(f *synth.Fields) (any, error) {
		var (
			c   Credentials
			err error
		)
		if c.Database, err = f.String("database"); err != nil {
			return nil, err
		}
		if c.Username, err = f.String("username"); err != nil {
			return nil, err
		}
		if c.Password, err = f.String("password"); err != nil {
			return nil, err
		}
		if c.Host, err = f.String("host"); err != nil {
			return nil, err
		}
		port, err := f.Int("port")
		if err != nil {
			return nil, err
		}
		timeout, err := f.Int("connect_timeout")
		if err != nil {
			return nil, err
		}
		c.Port, c.ConnectTimeout = int(port), int(timeout)
		return c, nil
	})
	synth.Register(PostgresConfigName, func(f *synth.Fields) (any, error) {
		return postgresFromFields(f)
	})
	synth.Register(RedshiftConfigName, func(f *synth.Fields) (any, error) {
		c, err := postgresFromFields(f)
		if err != nil {
			return nil, err
		}
		return RedshiftClientConfiguration{PostgresClientConfiguration: c}, nil
	})
}

func postgresFromFields(f *synth.Fields) (PostgresClientConfiguration, error) {
	var (
		c   PostgresClientConfiguration
		err error
	)
	if c.DestinationName, err = f.String("destination_name"); err != nil {
		return c, err
	}
	if c.DefaultSchemaName, err = f.String("default_schema_name"); err != nil {
		return c, err
	}
	if c.CreateIndexes, err = f.Bool("create_indexes"); err != nil {
		return c, err
	}
	creds, err := f.Any("credentials")
	if err != nil {
		return c, err
	}
	var ok bool
	if c.Credentials, ok = creds.(Credentials); !ok {
		return c, fmt.Errorf("destination: %s: credentials is %T", f.TypeName(), creds)
	}
	return c, nil
}

// secrets mirrors the [destination.<name>] tables of a secrets file.
type secrets struct {
	Destination struct {
		Postgres *PostgresClientConfiguration `toml:"postgres"`
		Redshift *PostgresClientConfiguration `toml:"redshift"`
	} `toml:"destination"`
}

// ParsePostgres reads the [destination.postgres] table of a TOML document
// over the Postgres defaults.
func ParsePostgres(data []byte) (PostgresClientConfiguration, error) {
	c := NewPostgresClientConfiguration()
	var s secrets
	s.Destination.Postgres = &c
	if err := toml.Unmarshal(data, &s); err != nil {
		return PostgresClientConfiguration{}, fmt.Errorf("parsing postgres configuration: %w", err)
	}
	return c, nil
}

// ParseRedshift reads the [destination.redshift] table of a TOML document
// over the Redshift defaults.
func ParseRedshift(data []byte) (RedshiftClientConfiguration, error) {
	c := NewRedshiftClientConfiguration()
	var s secrets
	s.Destination.Redshift = &c.PostgresClientConfiguration
	if err := toml.Unmarshal(data, &s); err != nil {
		return RedshiftClientConfiguration{}, fmt.Errorf("parsing redshift configuration: %w", err)
	}
	return c, nil
}

// Load reads the configuration of the named destination, "postgres" or
// "redshift", from a TOML file.
func Load(path, name string) (synth.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	switch name {
	case "postgres":
		c, err := ParsePostgres(data)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "redshift":
		c, err := ParseRedshift(data)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown destination %q", name)
}
