package model

import (
	"fmt"
	"maps"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

// ContractWhitelist はコントラクトクラス名から許可された実装のハッシュへの対応表。
// MessagePackではキーを昇順に並べてエンコードするため、同じ内容は同じバイト列になる。
type ContractWhitelist map[string][]SecureHash

var (
	_ msgpack.CustomEncoder = ContractWhitelist(nil)
	_ msgpack.CustomDecoder = (*ContractWhitelist)(nil)
)

// EncodeMsgpack はキーをソートしてマップをエンコードする。
func (w ContractWhitelist) EncodeMsgpack(enc *msgpack.Encoder) error {
	if w == nil {
		return enc.EncodeNil()
	}
	if err := enc.EncodeMapLen(len(w)); err != nil {
		return err
	}
	for _, name := range slices.Sorted(maps.Keys(w)) {
		if err := enc.EncodeString(name); err != nil {
			return err
		}
		if err := enc.Encode(w[name]); err != nil {
			return fmt.Errorf("whitelist entry %s: %w", name, err)
		}
	}
	return nil
}

// DecodeMsgpack はEncodeMsgpackの出力を復元する。
func (w *ContractWhitelist) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	if n == -1 {
		*w = nil
		return nil
	}
	m := make(ContractWhitelist, n)
	for range n {
		name, err := dec.DecodeString()
		if err != nil {
			return err
		}
		var hashes []SecureHash
		if err := dec.Decode(&hashes); err != nil {
			return fmt.Errorf("whitelist entry %s: %w", name, err)
		}
		m[name] = hashes
	}
	*w = m
	return nil
}
