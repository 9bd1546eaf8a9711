package cert

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"os"
	"path/filepath"
	"testing"
)

func Test_Authority_Issue(t *testing.T) {
	ca, err := NewAuthority(pkix.Name{CommonName: "CA"})
	if err != nil {
		t.Fatal("NewAuthority:", err)
	}

	pair, err := ca.Issue(pkix.Name{CommonName: "Server.Tunnel"}, "127.0.0.1", "localhost")
	if err != nil {
		t.Fatal("Issue:", err)
	}

	certificate, err := pair.TLSCertificate()
	if err != nil {
		t.Fatal("TLSCertificate:", err)
	}

	leaf, err := x509.ParseCertificate(certificate.Certificate[0])
	if err != nil {
		t.Fatal("ParseCertificate:", err)
	}

	for _, host := range []string{"127.0.0.1", "localhost"} {
		if _, err := leaf.Verify(x509.VerifyOptions{Roots: ca.Pool(), DNSName: host}); err != nil {
			t.Errorf("Verify(%s): %v", host, err)
		}
	}
}

func Test_ServerConfig_ClientConfig(t *testing.T) {
	dir := t.TempDir()

	ca, err := NewAuthority(pkix.Name{CommonName: "CA"})
	if err != nil {
		t.Fatal("NewAuthority:", err)
	}
	if err := ca.WriteFiles(dir, "ca"); err != nil {
		t.Fatal("WriteFiles:", err)
	}

	pair, err := ca.Issue(pkix.Name{CommonName: "Server"}, "127.0.0.1")
	if err != nil {
		t.Fatal("Issue:", err)
	}
	name := FileName("Server")
	if err := pair.WriteFiles(dir, name); err != nil {
		t.Fatal("WriteFiles:", err)
	}

	serverConfig, err := ServerConfig(filepath.Join(dir, name+".crt"), filepath.Join(dir, name+".key"))
	if err != nil {
		t.Fatal("ServerConfig:", err)
	}
	if len(serverConfig.Certificates) != 1 {
		t.Fatalf("want 1 certificate, got %d", len(serverConfig.Certificates))
	}

	clientConfig, err := ClientConfig(filepath.Join(dir, "ca.crt"), false)
	if err != nil {
		t.Fatal("ClientConfig:", err)
	}
	if clientConfig.RootCAs == nil {
		t.Fatal("RootCAs not loaded")
	}

	if _, err := ClientConfig(filepath.Join(dir, "missing.crt"), false); err == nil {
		t.Fatal("ClientConfig should fail on a missing file")
	}

	empty := filepath.Join(dir, "empty.crt")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ClientConfig(empty, false); err == nil {
		t.Fatal("ClientConfig should fail without certificates")
	}

	plain, err := ClientConfig("", true)
	if err != nil || !plain.InsecureSkipVerify || plain.MinVersion != tls.VersionTLS12 {
		t.Fatalf("ClientConfig(\"\", true) = %+v, %v", plain, err)
	}
}

func Test_FileName(t *testing.T) {
	tests := []struct {
		commonName string
		want       string
	}{
		{"Server", "server"},
		{"Tunnel Client.example", "tunnel-client"},
		{"ca", "ca"},
	}
	for _, tt := range tests {
		t.Run(tt.commonName, func(t *testing.T) {
			if got := FileName(tt.commonName); got != tt.want {
				t.Errorf("FileName() = %v, want %v", got, tt.want)
			}
		})
	}
}
