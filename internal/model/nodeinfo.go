package model

import "fmt"

// Party はネットワーク上の法的アイデンティティを表す。
// OwningKeyはPKIX形式(DER)の公開鍵。
type Party struct {
	Name      X500Name `msgpack:"name"`
	OwningKey []byte   `msgpack:"owning_key"`
}

// NodeInfo はノードが公開する自身の情報を表す。
type NodeInfo struct {
	Addresses       []string `msgpack:"addresses"`
	LegalIdentities []Party  `msgpack:"legal_identities"`
	PlatformVersion int      `msgpack:"platform_version"`
	Serial          int64    `msgpack:"serial"`
}

// NotaryIdentity はノードのノータリーとしてのアイデンティティを返す。
// 単一ノードのノータリーは唯一のアイデンティティを、
// 分散ノータリーのメンバーは2番目のクラスタ共有アイデンティティを使用する。
func (n NodeInfo) NotaryIdentity() (Party, error) {
	switch len(n.LegalIdentities) {
	case 1:
		return n.LegalIdentities[0], nil
	case 2:
		return n.LegalIdentities[1], nil
	default:
		return Party{}, fmt.Errorf("cannot determine notary identity from %d legal identities", len(n.LegalIdentities))
	}
}

// SignedNodeInfo はシリアライズ済みNodeInfoと、
// 各法的アイデンティティの鍵による署名を保持する。
// Signaturesの順序はLegalIdentitiesの順序に対応する。
type SignedNodeInfo struct {
	Raw        []byte   `msgpack:"raw"`
	Signatures [][]byte `msgpack:"signatures"`
}

// Hash はRawのSHA-256ハッシュを返す。ネットワークマップ上のノード識別子となる。
func (s SignedNodeInfo) Hash() SecureHash {
	return SHA256(s.Raw)
}

// StoredNodeInfo はリポジトリから取得したノード情報。
// Bytesは公開時に受け取ったSignedNodeInfoのシリアライズ表現。
type StoredNodeInfo struct {
	Hash   SecureHash
	Signed SignedNodeInfo
	Bytes  []byte
}
