package certificates

import (
	"archive/zip"
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/hitoshi/networkmap/internal/model"
)

// ノードCA証明書の有効期間（500日）。
const nodeCAValidity = 500 * 24 * time.Hour

// oidNameConstraints はX.509名前制約拡張のOID。
var oidNameConstraints = asn1.ObjectIdentifier{2, 5, 29, 30}

// ParseCSR はDER形式のPKCS#10要求をパースし、自己署名とサブジェクトを検証する。
func ParseCSR(der []byte) (*x509.CertificateRequest, model.X500Name, error) {
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, model.X500Name{}, fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, model.X500Name{}, fmt.Errorf("%w: %v", model.ErrInvalidSignature, err)
	}
	name, err := model.X500NameFromPKIX(csr.Subject)
	if err != nil {
		return nil, model.X500Name{}, err
	}
	return csr, name, nil
}

// SignNodeCA はドアマンCAでノードCA証明書を発行する。
// 発行した証明書には、CNを除いたサブジェクトを許可する名前制約が付与される。
func SignNodeCA(issuer *CertificateAndKey, csr *x509.CertificateRequest, name model.X500Name) (*x509.Certificate, error) {
	cert, err := issueNodeCA(issuer, csr.PublicKey, name)
	if err != nil {
		return nil, err
	}
	if err := cert.CheckSignatureFrom(issuer.Certificate); err != nil {
		return nil, fmt.Errorf("issued node CA does not verify against %s: %w", subjectName(issuer.Certificate.Subject), err)
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, fmt.Errorf("issued node CA is not valid at %s", now.Format(time.RFC3339))
	}
	return cert, nil
}

func issueNodeCA(issuer *CertificateAndKey, pub crypto.PublicKey, name model.X500Name) (*x509.Certificate, error) {
	tmpl, err := newTemplate(name, nodeCAValidity)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl.NotBefore = now
	tmpl.NotAfter = now.Add(nodeCAValidity)
	tmpl.IsCA = true
	tmpl.BasicConstraintsValid = true
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature

	ext, err := nameConstraintsExtension(name.WithoutCommonName())
	if err != nil {
		return nil, err
	}
	tmpl.ExtraExtensions = []pkix.Extension{ext}

	return issue(tmpl, issuer, pub)
}

// nameConstraintsExtension はdirectoryNameの許可サブツリーを1つ持つ名前制約拡張を生成する。
// crypto/x509はdirectoryName制約を扱わないため、検証器を壊さないよう非クリティカルで付与する。
func nameConstraintsExtension(permitted model.X500Name) (pkix.Extension, error) {
	nameDER, err := asn1.Marshal(permitted.PKIXName().ToRDNSequence())
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode permitted name: %w", err)
	}
	subtree, err := asn1.Marshal(struct {
		Base asn1.RawValue
	}{
		Base: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 4, IsCompound: true, Bytes: nameDER},
	})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode general subtree: %w", err)
	}
	value, err := asn1.Marshal(struct {
		Permitted asn1.RawValue
	}{
		Permitted: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: subtree},
	})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode name constraints: %w", err)
	}
	return pkix.Extension{Id: oidNameConstraints, Value: value}, nil
}

// TrustStorePEM はノードが信頼するルートCAのPEMを返す。
func TrustStorePEM(root *x509.Certificate) []byte {
	return EncodeCertificatePEM(root)
}

// DevKeyStores は開発用ノードのキーストア一式をzipで返す。
//
//	nodekeystore.pem: ノードCA、法的アイデンティティ証明書と鍵、ドアマンCA、ルートCA
//	sslkeystore.pem:  TLS証明書と鍵、ノードCA、ドアマンCA、ルートCA
//	truststore.pem:   ルートCA
func DevKeyStores(doorman *CertificateAndKey, root *x509.Certificate, name model.X500Name) ([]byte, error) {
	nodeKey, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	nodeCert, err := issueNodeCA(doorman, &nodeKey.PublicKey, name)
	if err != nil {
		return nil, err
	}
	nodeCA := &CertificateAndKey{Certificate: nodeCert, Key: nodeKey}

	identity, err := issueLeaf(nodeCA, name, x509.KeyUsageDigitalSignature, nil)
	if err != nil {
		return nil, err
	}
	tlsCert, err := issueLeaf(nodeCA, name, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment,
		[]x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth})
	if err != nil {
		return nil, err
	}

	nodeStore, err := keyStorePEM(nodeCA, doorman.Certificate, root)
	if err != nil {
		return nil, err
	}
	identityStore, err := keyStorePEM(identity, nodeCert, doorman.Certificate, root)
	if err != nil {
		return nil, err
	}
	sslStore, err := keyStorePEM(tlsCert, nodeCert, doorman.Certificate, root)
	if err != nil {
		return nil, err
	}

	return zipFiles([]zipEntry{
		{Name: "nodekeystore.pem", Data: append(nodeStore, identityStore...)},
		{Name: "sslkeystore.pem", Data: sslStore},
		{Name: "truststore.pem", Data: TrustStorePEM(root)},
	})
}

// CertificateChainZip はDER証明書チェーンを1ファイル1証明書のzipにまとめる。
func CertificateChainZip(names []string, chain [][]byte) ([]byte, error) {
	if len(names) != len(chain) {
		return nil, fmt.Errorf("%d names for %d certificates", len(names), len(chain))
	}
	entries := make([]zipEntry, 0, len(chain))
	for i, der := range chain {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate %s: %w", names[i], err)
		}
		entries = append(entries, zipEntry{Name: names[i], Data: EncodeCertificatePEM(cert)})
	}
	return zipFiles(entries)
}

func issueLeaf(issuer *CertificateAndKey, name model.X500Name, usage x509.KeyUsage, ext []x509.ExtKeyUsage) (*CertificateAndKey, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	tmpl, err := newTemplate(name, nodeCAValidity)
	if err != nil {
		return nil, err
	}
	tmpl.BasicConstraintsValid = true
	tmpl.KeyUsage = usage
	tmpl.ExtKeyUsage = ext
	cert, err := issue(tmpl, issuer, &key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &CertificateAndKey{Certificate: cert, Key: key}, nil
}

func keyStorePEM(leaf *CertificateAndKey, chain ...*x509.Certificate) ([]byte, error) {
	keyPEM, err := EncodeKeyPEM(leaf.Key)
	if err != nil {
		return nil, err
	}
	certs := append([]*x509.Certificate{leaf.Certificate}, chain...)
	return append(EncodeCertificatePEM(certs...), keyPEM...), nil
}

type zipEntry struct {
	Name string
	Data []byte
}

func zipFiles(entries []zipEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}
