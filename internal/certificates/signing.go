package certificates

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"github.com/hitoshi/networkmap/internal/model"
	"github.com/hitoshi/networkmap/internal/serialization"
)

// SignWithCert は値をシリアライズし、caの鍵で署名したSignedDataを返す。
// 署名者の証明書が添付されるため、受信側はルートCAのみで検証できる。
func SignWithCert(v any, ca *CertificateAndKey) (model.SignedData, error) {
	raw, err := serialization.Marshal(v)
	if err != nil {
		return model.SignedData{}, err
	}
	return SignRawWithCert(raw, ca)
}

// SignRawWithCert はシリアライズ済みのrawをそのまま署名する。
// 保存済みオブジェクトを再署名してもハッシュは変わらない。
func SignRawWithCert(raw []byte, ca *CertificateAndKey) (model.SignedData, error) {
	sig, err := sign(ca.Key, raw)
	if err != nil {
		return model.SignedData{}, err
	}
	return model.SignedData{Raw: raw, Signature: sig, Certificate: ca.Certificate.Raw}, nil
}

// VerifySignedData は添付証明書がrootsにチェーンし、
// 署名がその証明書の鍵で行われていることを検証する。
func VerifySignedData(sd model.SignedData, roots *x509.CertPool) (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(sd.Certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUntrustedIdentity, err)
	}
	if _, err := cert.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUntrustedIdentity, err)
	}
	if err := verify(cert.PublicKey, sd.Raw, sd.Signature); err != nil {
		return nil, err
	}
	return cert, nil
}

// SignNodeInfo はNodeInfoをシリアライズし、法的アイデンティティごとの鍵で署名する。
// keysはLegalIdentitiesと同じ順序で渡す。
func SignNodeInfo(info model.NodeInfo, keys ...crypto.Signer) (model.SignedNodeInfo, error) {
	if len(keys) != len(info.LegalIdentities) {
		return model.SignedNodeInfo{}, fmt.Errorf("%d keys for %d legal identities", len(keys), len(info.LegalIdentities))
	}
	raw, err := serialization.Marshal(info)
	if err != nil {
		return model.SignedNodeInfo{}, err
	}
	signed := model.SignedNodeInfo{Raw: raw}
	for _, k := range keys {
		sig, err := sign(k, raw)
		if err != nil {
			return model.SignedNodeInfo{}, err
		}
		signed.Signatures = append(signed.Signatures, sig)
	}
	return signed, nil
}

// VerifyNodeInfo は各法的アイデンティティのOwningKeyで対応する署名を検証する。
func VerifyNodeInfo(signed model.SignedNodeInfo, info model.NodeInfo) error {
	if len(signed.Signatures) != len(info.LegalIdentities) {
		return fmt.Errorf("%w: %d signatures for %d legal identities",
			model.ErrInvalidSignature, len(signed.Signatures), len(info.LegalIdentities))
	}
	for i, party := range info.LegalIdentities {
		pub, err := x509.ParsePKIXPublicKey(party.OwningKey)
		if err != nil {
			return fmt.Errorf("%w: owning key of %s: %v", model.ErrInvalidSignature, party.Name, err)
		}
		if err := verify(pub, signed.Raw, signed.Signatures[i]); err != nil {
			return fmt.Errorf("signature of %s: %w", party.Name, err)
		}
	}
	return nil
}

// DecodeVerifiedNodeInfo はSignedNodeInfoをデコードし、全署名を検証する。
func DecodeVerifiedNodeInfo(data []byte) (model.SignedNodeInfo, model.NodeInfo, error) {
	signed, info, err := serialization.DecodeSignedNodeInfo(data)
	if err != nil {
		return model.SignedNodeInfo{}, model.NodeInfo{}, err
	}
	if err := VerifyNodeInfo(signed, info); err != nil {
		return model.SignedNodeInfo{}, model.NodeInfo{}, err
	}
	return signed, info, nil
}

// NewParty は公開鍵からPartyを生成する。
func NewParty(name model.X500Name, pub crypto.PublicKey) (model.Party, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return model.Party{}, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return model.Party{Name: name, OwningKey: der}, nil
}

func sign(signer crypto.Signer, raw []byte) ([]byte, error) {
	var (
		sig []byte
		err error
	)
	if _, ok := signer.Public().(ed25519.PublicKey); ok {
		sig, err = signer.Sign(rand.Reader, raw, crypto.Hash(0))
	} else {
		digest := sha256.Sum256(raw)
		sig, err = signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

func verify(pub crypto.PublicKey, raw, sig []byte) error {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(raw)
		if !ecdsa.VerifyASN1(k, digest[:], sig) {
			return model.ErrInvalidSignature
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(k, raw, sig) {
			return model.ErrInvalidSignature
		}
	default:
		return fmt.Errorf("%w: unsupported key type %T", model.ErrInvalidSignature, pub)
	}
	return nil
}
