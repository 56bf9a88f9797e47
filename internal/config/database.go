package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName is the name custom TLS configs are registered under with the MySQL driver.
const tlsConfigName = "tidb-eagerload-custom"

// DSN returns a MySQL-compatible data source name. ConnectionString wins over
// the discrete fields; parseTime and a UTC location are always enforced.
func (d *DatabaseConfig) DSN() (string, error) {
	cfg, err := d.driverConfig()
	if err != nil {
		return "", err
	}
	return cfg.FormatDSN(), nil
}

func (d *DatabaseConfig) driverConfig() (*mysql.Config, error) {
	var cfg *mysql.Config
	if dsn := strings.TrimSpace(d.ConnectionString); dsn != "" {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("database.dsn is invalid: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		cfg.DBName = d.Database
	}

	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if param := d.effectiveTLSParam(); param != "" && cfg.TLSConfig == "" {
		cfg.TLSConfig = param
	}
	return cfg, nil
}

// EffectiveDatabaseName returns database.database, falling back to the
// database named in the DSN. A mismatch between the two is an error.
func (d *DatabaseConfig) EffectiveDatabaseName() (string, error) {
	configured := strings.TrimSpace(d.Database)
	fromDSN := ""
	if dsn := strings.TrimSpace(d.ConnectionString); dsn != "" {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		fromDSN = strings.TrimSpace(parsed.DBName)
	}

	switch {
	case configured != "" && fromDSN != "" && configured != fromDSN:
		return "", fmt.Errorf("database mismatch: database.database=%q but database.dsn targets %q", configured, fromDSN)
	case configured != "":
		return configured, nil
	case fromDSN != "":
		return fromDSN, nil
	default:
		return "", fmt.Errorf("no database configured: set database.database or include /<database> in database.dsn")
	}
}

// effectiveTLSParam maps TLS.Mode to the driver's tls parameter value.
func (d *DatabaseConfig) effectiveTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

// RegisterTLS registers the custom TLS config with the MySQL driver. It must
// run before the database is opened and is a no-op for modes that need none.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full" {
		return nil
	}

	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if d.TLS.CAFile != "" {
		caCert, err := os.ReadFile(d.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", d.TLS.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", d.TLS.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	switch {
	case d.TLS.CertFile != "" && d.TLS.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(d.TLS.CertFile, d.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	case d.TLS.CertFile != "" || d.TLS.KeyFile != "":
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" && d.TLS.ServerName != "" {
		tlsCfg.ServerName = d.TLS.ServerName
	}
	if d.TLS.Mode == "verify-ca" {
		// Chain is verified against RootCAs without the hostname check.
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyPeerCertificate = verifyChainOnly(tlsCfg.RootCAs)
	}

	return tlsCfg, nil
}

func verifyChainOnly(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("server presented no certificates")
		}
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("failed to parse server certificate: %w", err)
			}
			certs = append(certs, cert)
		}
		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
		})
		return err
	}
}
