package taurus

import (
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// quicALPN is the application protocol negotiated by the
// QUIC backend.
const quicALPN = "taurus"

// newEphemeralTLSConfig makes a fresh ed25519 self-signed
// certificate for QUIC, which requires TLS 1.3. Peer
// authentication is left to the Decider, so certificates
// are not verified.
func newEphemeralTLSConfig() (*tls.Config, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("ed25519 keygen: %w", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"taurus"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(nil, &tmpl, &tmpl, pubKey, privKey)
	if err != nil {
		return nil, fmt.Errorf("self-signed certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  privKey,
		}},
		NextProtos:         []string{quicALPN},
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
	}, nil
}
