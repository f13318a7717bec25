// Package certificates はネットワークマップとドアマンが使用する
// 開発用PKI（ルートCA、ネットワークマップCA、ドアマンCA）と署名処理を提供する。
// 鍵はすべてECDSA P-256、署名はSHA256withECDSA。
package certificates

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/hitoshi/networkmap/internal/model"
)

// CA証明書の有効期間。
const caValidity = 10 * 365 * 24 * time.Hour

// 開発用CAのサブジェクト。
var (
	DevRootCAName    = model.X500Name{CommonName: "Corda Node Root CA", OrganisationUnit: "corda", Organisation: "R3 Ltd", Locality: "London", Country: "GB"}
	NetworkMapCAName = model.X500Name{CommonName: "Network Map", Organisation: "R3 Ltd", Locality: "London", Country: "GB"}
	DoormanCAName    = model.X500Name{CommonName: "BasicDoorman", Organisation: "R3 Ltd", Locality: "London", Country: "GB"}
)

// CertificateAndKey は証明書とその秘密鍵の組。
type CertificateAndKey struct {
	Certificate *x509.Certificate
	Key         *ecdsa.PrivateKey
}

// GenerateKey はECDSA P-256鍵を生成する。
func GenerateKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// NewDevRootCA は自己署名の開発用ルートCAを生成する。
func NewDevRootCA() (*CertificateAndKey, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	tmpl, err := newTemplate(DevRootCAName, caValidity)
	if err != nil {
		return nil, err
	}
	tmpl.IsCA = true
	tmpl.BasicConstraintsValid = true
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create root certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse root certificate: %w", err)
	}
	return &CertificateAndKey{Certificate: cert, Key: key}, nil
}

// CreateNetworkMapCA はルートCAが発行するネットワークマップ署名用証明書を生成する。
func CreateNetworkMapCA(root *CertificateAndKey) (*CertificateAndKey, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	tmpl, err := newTemplate(NetworkMapCAName, caValidity)
	if err != nil {
		return nil, err
	}
	tmpl.BasicConstraintsValid = true
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageAny}

	cert, err := issue(tmpl, root, &key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &CertificateAndKey{Certificate: cert, Key: key}, nil
}

// CreateDoormanCA はルートCAが発行する中間CA（ドアマン）証明書を生成する。
func CreateDoormanCA(root *CertificateAndKey) (*CertificateAndKey, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	tmpl, err := newTemplate(DoormanCAName, caValidity)
	if err != nil {
		return nil, err
	}
	tmpl.IsCA = true
	tmpl.BasicConstraintsValid = true
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature

	cert, err := issue(tmpl, root, &key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &CertificateAndKey{Certificate: cert, Key: key}, nil
}

// Authority はネットワークマップが使用するCA一式。
type Authority struct {
	Root       *CertificateAndKey
	NetworkMap *CertificateAndKey
	Doorman    *CertificateAndKey
}

// LoadOrCreateAuthority はdir配下のPEMからCA一式を読み込む。
// 存在しないCAは生成してdirに保存する。dirが空の場合はメモリ上にのみ生成する。
func LoadOrCreateAuthority(dir string) (*Authority, error) {
	root, err := loadOrCreate(dir, "root-ca", NewDevRootCA)
	if err != nil {
		return nil, err
	}
	networkMap, err := loadOrCreate(dir, "network-map", func() (*CertificateAndKey, error) {
		return CreateNetworkMapCA(root)
	})
	if err != nil {
		return nil, err
	}
	doorman, err := loadOrCreate(dir, "doorman-ca", func() (*CertificateAndKey, error) {
		return CreateDoormanCA(root)
	})
	if err != nil {
		return nil, err
	}
	return &Authority{Root: root, NetworkMap: networkMap, Doorman: doorman}, nil
}

// RootPool はルートCAのみを含むCertPoolを返す。
func (a *Authority) RootPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.Root.Certificate)
	return pool
}

func loadOrCreate(dir, name string, create func() (*CertificateAndKey, error)) (*CertificateAndKey, error) {
	if dir == "" {
		return create()
	}
	certPath := filepath.Join(dir, name+".pem")
	keyPath := filepath.Join(dir, name+".key")

	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		ck, err := ParseCertificateAndKey(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", name, err)
		}
		return ck, nil
	}
	if !errors.Is(certErr, os.ErrNotExist) && certErr != nil {
		return nil, fmt.Errorf("failed to read %s: %w", certPath, certErr)
	}
	if !errors.Is(keyErr, os.ErrNotExist) && keyErr != nil {
		return nil, fmt.Errorf("failed to read %s: %w", keyPath, keyErr)
	}

	ck, err := create()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create certificates directory: %w", err)
	}
	keyBytes, err := EncodeKeyPEM(ck.Key)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(certPath, EncodeCertificatePEM(ck.Certificate), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", certPath, err)
	}
	if err := os.WriteFile(keyPath, keyBytes, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", keyPath, err)
	}
	return ck, nil
}

// ParseCertificateAndKey はPEM形式の証明書とECDSA秘密鍵を読み込む。
func ParseCertificateAndKey(certPEM, keyPEM []byte) (*CertificateAndKey, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("no CERTIFICATE block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	block, _ = pem.Decode(keyPEM)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, errors.New("no PRIVATE KEY block")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", parsed)
	}
	return &CertificateAndKey{Certificate: cert, Key: key}, nil
}

// EncodeCertificatePEM は証明書をPEMエンコードする。
func EncodeCertificatePEM(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}

// EncodeKeyPEM は秘密鍵をPKCS#8のPEMにエンコードする。
func EncodeKeyPEM(key crypto.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func newTemplate(subject model.X500Name, validity time.Duration) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	now := time.Now()
	return &x509.Certificate{
		SerialNumber: serial,
		Subject:      subject.PKIXName(),
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(validity),
	}, nil
}

func issue(tmpl *x509.Certificate, issuer *CertificateAndKey, pub crypto.PublicKey) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer.Certificate, pub, issuer.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to issue certificate for %s: %w", tmpl.Subject, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse issued certificate: %w", err)
	}
	return cert, nil
}

// subjectName はpkix.NameをX500Nameに変換する。変換できない場合は文字列表現を返す。
func subjectName(p pkix.Name) string {
	if n, err := model.X500NameFromPKIX(p); err == nil {
		return n.String()
	}
	return p.String()
}
