package identity

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"
)

// sinkOrgUnit marks a device certificate's Subject as belonging to the Sink,
// per spec §6 ("MUST mark the Sink via a distinct Organisational-Unit value").
const sinkOrgUnit = "Sink"

// Errors surfaced at startup; spec §7 treats these as fatal.
var (
	ErrMissingCert        = errors.New("identity: missing certificate or key file")
	ErrInvalidCertificate = errors.New("identity: certificate does not chain to the CA or is not within its validity period")
	ErrNIDNotFound        = errors.New("identity: certificate subject does not encode a NID")
)

// Device holds a loaded identity: the device's own certificate and private
// key, its NID, whether it is the Sink, and the CA pool used to validate
// peers.
type Device struct {
	NID     NID
	IsSink  bool
	Cert    *x509.Certificate
	PrivKey *ecdsa.PrivateKey
	CAPool  *x509.CertPool
	CACert  *x509.Certificate
}

// LoadDevice loads the three PEM files spec §6 describes (CA certificate,
// device certificate, device private key), validates the device certificate
// against the CA, and extracts the NID and Sink marker from its Subject.
func LoadDevice(caPath, certPath, keyPath string) (*Device, error) {
	caPEM, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingCert, err)
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingCert, err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingCert, err)
	}

	caCert, err := parseCertPEM(caPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	cert, err := parseCertPEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	if err := VerifyPeerCert(cert, pool); err != nil {
		return nil, err
	}

	priv, err := parseECKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	nid, err := nidFromCert(cert)
	if err != nil {
		return nil, err
	}

	return &Device{
		NID:     nid,
		IsSink:  cert.Subject.OrganizationalUnit != nil && contains(cert.Subject.OrganizationalUnit, sinkOrgUnit),
		Cert:    cert,
		PrivKey: priv,
		CAPool:  pool,
		CACert:  caCert,
	}, nil
}

// VerifyPeerCert validates that cert chains to the CA pool and is currently
// within its validity period. This is the check both the initiator and
// responder sides of §4.5's authentication protocol run on the peer's
// certificate.
func VerifyPeerCert(cert *x509.Certificate, pool *x509.CertPool) error {
	opts := x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return fmt.Errorf("%w: outside validity period", ErrInvalidCertificate)
	}
	return nil
}

// NIDFromCert extracts the NID embedded in a certificate's Subject
// CommonName, exported for use by the authentication state machine when it
// parses a peer's certificate off the wire.
func NIDFromCert(cert *x509.Certificate) (NID, error) {
	return nidFromCert(cert)
}

func nidFromCert(cert *x509.Certificate) (NID, error) {
	if cert.Subject.CommonName == "" {
		return NID{}, ErrNIDNotFound
	}
	nid, err := ParseNID(cert.Subject.CommonName)
	if err != nil {
		return NID{}, ErrNIDNotFound
	}
	return nid, nil
}

// IsSinkCert reports whether a certificate's Subject marks it as the Sink.
func IsSinkCert(cert *x509.Certificate) bool {
	return contains(cert.Subject.OrganizationalUnit, sinkOrgUnit)
}

// ParseNodeCert parses a DER-encoded certificate embedded in a DATA payload
// and verifies it against pool, the same check VerifyPeerCert runs during
// authentication. Used by the Sink to recover an originating Node's
// long-term public key when deriving K_e2e (DESIGN.md Open Question #2),
// without requiring a direct handshake between the two.
func ParseNodeCert(der []byte, pool *x509.CertPool) (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if err := VerifyPeerCert(cert, pool); err != nil {
		return nil, err
	}
	return cert, nil
}

func parseCertPEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("identity: not a PEM certificate")
	}
	return x509.ParseCertificate(block.Bytes)
}

func parseECKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("identity: not a PEM private key")
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("identity: private key is not ECDSA")
		}
		return ecKey, nil
	default:
		return nil, fmt.Errorf("identity: unsupported key PEM type %q", block.Type)
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
