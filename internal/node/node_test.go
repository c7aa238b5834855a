package node

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/rafaelfelicianoS/treenet/internal/heartbeat"
	"github.com/rafaelfelicianoS/treenet/internal/identity"
	"github.com/rafaelfelicianoS/treenet/internal/linkmanager"
	"github.com/rafaelfelicianoS/treenet/internal/router"
	"github.com/rafaelfelicianoS/treenet/internal/sink"
	"github.com/rafaelfelicianoS/treenet/internal/transport"
)

type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(identity.Curve, rand.Reader)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-root-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create CA cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse CA cert: %v", err)
	}
	return &testCA{cert: cert, key: key}
}

func (ca *testCA) newTestDevice(t *testing.T, nid string, isSink bool) *identity.Device {
	t.Helper()
	key, err := ecdsa.GenerateKey(identity.Curve, rand.Reader)
	if err != nil {
		t.Fatalf("generate device key: %v", err)
	}
	subject := pkix.Name{CommonName: nid}
	if isSink {
		subject.OrganizationalUnit = []string{"Sink"}
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		t.Fatalf("create device cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse device cert: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(ca.cert)

	parsedNID, err := identity.ParseNID(nid)
	if err != nil {
		t.Fatalf("parse nid %q: %v", nid, err)
	}
	return &identity.Device{
		NID:     parsedNID,
		IsSink:  isSink,
		Cert:    cert,
		PrivKey: key,
		CAPool:  pool,
		CACert:  ca.cert,
	}
}

const (
	nidNode = "55555555-5555-5555-5555-555555555555"
	nidSink = "66666666-6666-6666-6666-666666666666"
)

func testConfig() linkmanager.Config {
	return linkmanager.Config{
		ScanTimeout:       time.Second,
		HeartbeatInterval: 20 * time.Millisecond,
		MissThreshold:     3,
		Cooldown:          time.Millisecond,
	}
}

// attachedPair builds one Node attached one hop from one Sink over an
// in-memory fabric, with the Node's SendMessage path not yet primed (no
// heartbeat observed yet).
func attachedPair(t *testing.T) (*Node, *sink.Sink, *identity.Device, *identity.Device) {
	t.Helper()
	ca := newTestCA(t)
	devNode := ca.newTestDevice(t, nidNode, false)
	devSink := ca.newTestDevice(t, nidSink, true)

	fabric := transport.NewFabric()
	linkNode := fabric.NewLink("node", linkmanager.HopUnset, transport.DeviceTypeNode)
	linkSink := fabric.NewLink("sink", linkmanager.HopUnset, transport.DeviceTypeSink)

	routerNode := router.New(devNode, linkNode, 100, 32)
	routerSink := router.New(devSink, linkSink, 100, 32)

	lmSink := linkmanager.New(devSink, linkSink, routerSink, nil, testConfig())
	lmSink.AcceptDownlinks()

	consumer := heartbeat.NewConsumer()
	lmNode := linkmanager.New(devNode, linkNode, routerNode, consumer, testConfig())

	s, err := sink.New(devSink, linkSink, routerSink, lmSink, 32)
	if err != nil {
		t.Fatalf("sink.New: %v", err)
	}
	n := New(devNode, routerNode, lmNode, consumer)

	if err := lmNode.EstablishUplink(context.Background()); err != nil {
		t.Fatalf("EstablishUplink: %v", err)
	}

	// EstablishUplink returns as soon as the initiator side sends its final
	// handshake message; the responder goroutine still needs to process it
	// and attach the router before the Sink side is ready to receive.
	deadline := time.Now().Add(time.Second)
	for len(lmSink.Downlinks()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(lmSink.Downlinks()) == 0 {
		t.Fatal("sink never finished accepting the downlink")
	}

	return n, s, devNode, devSink
}

func TestSingleHopDataEndToEnd(t *testing.T) {
	n, s, devNode, _ := attachedPair(t)

	// Simulate one heartbeat tick so the Node learns the Sink's certificate,
	// without waiting on RunHeartbeat's ticker.
	pkt, err := s.Producer.Next()
	if err != nil {
		t.Fatalf("Producer.Next: %v", err)
	}
	n.handleHeartbeat(pkt)

	if err := n.SendMessage(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	inbox := s.Inbox()
	if len(inbox) != 1 {
		t.Fatalf("inbox has %d entries, want 1", len(inbox))
	}
	if !inbox[0].SourceNID.Equal(devNode.NID) {
		t.Fatalf("inbox source = %v, want %v", inbox[0].SourceNID, devNode.NID)
	}
	if string(inbox[0].Plaintext) != "hello" {
		t.Fatalf("inbox plaintext = %q, want %q", inbox[0].Plaintext, "hello")
	}

	downlinks := s.Downlinks()
	found := false
	for _, nid := range downlinks {
		if nid.Equal(devNode.NID) {
			found = true
		}
	}
	if !found {
		t.Fatalf("sink downlinks missing the Node: %v", downlinks)
	}
}

func TestSendMessageBeforeHeartbeatFails(t *testing.T) {
	n, _, _, _ := attachedPair(t)
	if err := n.SendMessage(context.Background(), []byte("too early")); err != ErrNoSinkKnown {
		t.Fatalf("got %v, want ErrNoSinkKnown", err)
	}
}
