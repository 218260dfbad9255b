package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout applies when ConnectParams.ConnectTimeout is zero.
	defaultConnectTimeout = 10 * time.Second

	// defaultKeepAlive applies when ConnectParams.KeepAlive is zero.
	defaultKeepAlive = 20 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// maxPayloadSize bounds outbound payloads.
	maxPayloadSize = 256 * 1024

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// ConnectParams describes one connection attempt. A reconnect reuses every
// field except Password, which carries a freshly minted token.
type ConnectParams struct {
	Host   string
	Port   int
	TLS    bool
	CAFile string

	Username string
	Password string
	ClientID string

	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// Validate checks that the parameters can describe a connection.
func (p ConnectParams) Validate() error {
	switch {
	case p.Host == "":
		return fmt.Errorf("%w: host is required", ErrInvalidParams)
	case p.Port < 1 || p.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidParams, p.Port)
	case p.ClientID == "":
		return fmt.Errorf("%w: client id is required", ErrInvalidParams)
	case p.ConnectTimeout < 0 || p.KeepAlive < 0:
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidParams)
	}
	return nil
}

// BrokerURL returns the paho broker URL.
func (p ConnectParams) BrokerURL() string {
	scheme := "tcp"
	if p.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, p.Host, p.Port)
}

// String describes the parameters without the password.
func (p ConnectParams) String() string {
	return fmt.Sprintf("%s client_id=%s username=%s connect_timeout=%s keepalive=%s",
		p.BrokerURL(), p.ClientID, p.Username, p.effectiveConnectTimeout(), p.effectiveKeepAlive())
}

func (p ConnectParams) effectiveConnectTimeout() time.Duration {
	if p.ConnectTimeout == 0 {
		return defaultConnectTimeout
	}
	return p.ConnectTimeout
}

func (p ConnectParams) effectiveKeepAlive() time.Duration {
	if p.KeepAlive == 0 {
		return defaultKeepAlive
	}
	return p.KeepAlive
}

// buildClientOptions creates paho options for a single, non-reconnecting session.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID, username and token password
//   - Connect timeout and keepalive
//   - TLS with an optional CA bundle
//   - Clean session, no automatic reconnect or connect retry
func buildClientOptions(p ConnectParams) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.BrokerURL())
	opts.SetClientID(p.ClientID)

	if p.Username != "" {
		opts.SetUsername(p.Username)
	}
	if p.Password != "" {
		opts.SetPassword(p.Password)
	}

	// Reconnection belongs to the connection state machine, which mints a new
	// token for every attempt.
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)

	opts.SetConnectTimeout(p.effectiveConnectTimeout())
	opts.SetKeepAlive(p.effectiveKeepAlive())

	if p.TLS {
		tlsConfig, err := buildTLSConfig(p.CAFile)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

// buildTLSConfig returns the TLS settings. With no CA file the system roots are used.
func buildTLSConfig(caFile string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
	}
	if caFile == "" {
		return tlsConfig, nil
	}

	pemData, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA file %s: %w", caFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("CA file %s contains no certificates", caFile)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}
