// Package serialization はネットワークマップで交換するオブジェクトの
// バイナリ表現（MessagePack）を提供する。
// 同一の値は常に同一のバイト列にエンコードされ、ハッシュ計算の入力として使用できる。
package serialization

import (
	"bytes"
	"fmt"

	"github.com/hitoshi/networkmap/internal/model"
	"github.com/vmihailenco/msgpack/v5"
)

// Marshal は値をMessagePackにエンコードする。
// 文字列キーのマップはSetSortMapKeysで、ContractWhitelistは独自エンコーダでキー順に並べるため、
// 出力は決定的になる。
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to serialize %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal はMessagePackをデコードする。
// 末尾に余分なデータがある場合はエラーを返す。
func Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty input", model.ErrMalformedPayload)
	}
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	dec.DisallowUnknownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", model.ErrMalformedPayload, r.Len())
	}
	return nil
}

// DecodeSignedNodeInfo はSignedNodeInfoをデコードし、構造を検証する。
// 署名の検証は行わない。
func DecodeSignedNodeInfo(data []byte) (model.SignedNodeInfo, model.NodeInfo, error) {
	var signed model.SignedNodeInfo
	if err := Unmarshal(data, &signed); err != nil {
		return model.SignedNodeInfo{}, model.NodeInfo{}, err
	}
	var info model.NodeInfo
	if err := Unmarshal(signed.Raw, &info); err != nil {
		return model.SignedNodeInfo{}, model.NodeInfo{}, err
	}
	if len(info.LegalIdentities) == 0 {
		return model.SignedNodeInfo{}, model.NodeInfo{}, fmt.Errorf("%w: node info has no legal identities", model.ErrMalformedPayload)
	}
	if len(signed.Signatures) != len(info.LegalIdentities) {
		return model.SignedNodeInfo{}, model.NodeInfo{}, fmt.Errorf("%w: %d signatures for %d legal identities",
			model.ErrInvalidSignature, len(signed.Signatures), len(info.LegalIdentities))
	}
	return signed, info, nil
}
