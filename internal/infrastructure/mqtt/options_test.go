package mqtt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuildClientOptions(t *testing.T) {
	p := testParams()
	opts, err := buildClientOptions(p)
	if err != nil {
		t.Fatalf("buildClientOptions() error = %v", err)
	}

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.test:8883" {
		t.Errorf("Servers = %v, want ssl://broker.test:8883", opts.Servers)
	}
	if opts.ClientID != p.ClientID {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, p.ClientID)
	}
	if opts.Username != "unused" || opts.Password != "jwt-token" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.AutoReconnect || opts.ConnectRetry {
		t.Error("reconnect must be left to the caller")
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if opts.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", opts.ConnectTimeout)
	}
	if opts.KeepAlive != 20 {
		t.Errorf("KeepAlive = %d, want 20", opts.KeepAlive)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config missing or below minimum version")
	}
}

func TestBuildClientOptions_PlainAndDefaults(t *testing.T) {
	p := ConnectParams{Host: "127.0.0.1", Port: 1883, ClientID: "c"}
	opts, err := buildClientOptions(p)
	if err != nil {
		t.Fatalf("buildClientOptions() error = %v", err)
	}
	if opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want default", opts.ConnectTimeout)
	}
	if opts.KeepAlive != int64(defaultKeepAlive/time.Second) {
		t.Errorf("KeepAlive = %d, want default", opts.KeepAlive)
	}
}

func TestBuildTLSConfig_CAFile(t *testing.T) {
	dir := t.TempDir()

	if _, err := buildTLSConfig(filepath.Join(dir, "missing.pem")); err == nil {
		t.Error("expected error for missing CA file")
	}

	empty := filepath.Join(dir, "empty.pem")
	if err := os.WriteFile(empty, []byte("nothing here"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := buildTLSConfig(empty); err == nil || !strings.Contains(err.Error(), "no certificates") {
		t.Errorf("buildTLSConfig() error = %v, want no certificates", err)
	}

	caPath := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(caPath, selfSignedCA(t), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := buildTLSConfig(caPath)
	if err != nil {
		t.Fatalf("buildTLSConfig() error = %v", err)
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs not set")
	}
}

func selfSignedCA(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "devicelink test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestConnectParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConnectParams)
		valid  bool
	}{
		{name: "valid", mutate: func(*ConnectParams) {}, valid: true},
		{name: "no host", mutate: func(p *ConnectParams) { p.Host = "" }},
		{name: "port zero", mutate: func(p *ConnectParams) { p.Port = 0 }},
		{name: "port too high", mutate: func(p *ConnectParams) { p.Port = 70000 }},
		{name: "no client id", mutate: func(p *ConnectParams) { p.ClientID = "" }},
		{name: "negative keepalive", mutate: func(p *ConnectParams) { p.KeepAlive = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidParams) {
				t.Errorf("Validate() error = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestConnectParams_StringOmitsPassword(t *testing.T) {
	s := testParams().String()
	if strings.Contains(s, "jwt-token") {
		t.Errorf("String() = %q leaks password", s)
	}
	if !strings.Contains(s, "ssl://broker.test:8883") {
		t.Errorf("String() = %q, missing broker URL", s)
	}
}
