package config

import (
	"fmt"
	"strconv"
	"strings"
)

// DSN returns a lib/pq connection string. ConnectionString is returned as-is
// when set; otherwise key=value pairs are built from the discrete fields.
func (d *DatabaseConfig) DSN() string {
	if d.ConnectionString != "" {
		return d.ConnectionString
	}

	pairs := []string{
		"host=" + dsnValue(d.Host),
		"port=" + strconv.Itoa(d.Port),
		"user=" + dsnValue(d.User),
	}
	if d.Password != "" {
		pairs = append(pairs, "password="+dsnValue(d.Password))
	}
	pairs = append(pairs, "dbname="+dsnValue(d.Database))

	optional := []struct{ key, value string }{
		{"sslmode", d.SSLMode},
		{"sslrootcert", d.SSLRootCert},
		{"sslcert", d.SSLCert},
		{"sslkey", d.SSLKey},
		{"application_name", d.ApplicationName},
	}
	for _, opt := range optional {
		if opt.value != "" {
			pairs = append(pairs, opt.key+"="+dsnValue(opt.value))
		}
	}
	return strings.Join(pairs, " ")
}

// Target describes the connection for logs without exposing credentials.
func (d *DatabaseConfig) Target() string {
	if d.ConnectionString != "" {
		return "dsn"
	}
	return fmt.Sprintf("%s:%d/%s", d.Host, d.Port, d.Database)
}

// dsnValue quotes a key=value connection string value when libpq requires it.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
