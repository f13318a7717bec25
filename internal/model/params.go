package model

import "time"

// NotaryInfo はネットワークパラメータに含まれるノータリー情報。
type NotaryInfo struct {
	Identity   Party `msgpack:"identity"`
	Validating bool  `msgpack:"validating"`
}

// NetworkParameters はネットワーク全体で共有されるパラメータ。
type NetworkParameters struct {
	MinimumPlatformVersion             int               `msgpack:"minimum_platform_version"`
	Notaries                           []NotaryInfo      `msgpack:"notaries"`
	MaxMessageSize                     int               `msgpack:"max_message_size"`
	MaxTransactionSize                 int               `msgpack:"max_transaction_size"`
	ModifiedTime                       time.Time         `msgpack:"modified_time"`
	Epoch                              int               `msgpack:"epoch"`
	WhitelistedContractImplementations ContractWhitelist `msgpack:"whitelisted_contract_implementations"`
}

// ParametersUpdate はネットワークパラメータ更新の告知。
type ParametersUpdate struct {
	NewParametersHash SecureHash `msgpack:"new_parameters_hash"`
	Description       string     `msgpack:"description"`
	UpdateDeadline    time.Time  `msgpack:"update_deadline"`
}

// NetworkMap はネットワーク参加ノードのハッシュ一覧と、
// 現行ネットワークパラメータのハッシュを保持する。
type NetworkMap struct {
	NodeInfoHashes       []SecureHash      `msgpack:"node_info_hashes"`
	NetworkParameterHash SecureHash        `msgpack:"network_parameter_hash"`
	ParametersUpdate     *ParametersUpdate `msgpack:"parameters_update"`
}

// SignedData は証明書付きで署名されたデータ。
// Rawは署名対象オブジェクトのシリアライズ表現、CertificateはDER形式の署名者証明書。
type SignedData struct {
	Raw         []byte `msgpack:"raw"`
	Signature   []byte `msgpack:"signature"`
	Certificate []byte `msgpack:"certificate"`
}

// Hash はRawのSHA-256ハッシュを返す。
func (s SignedData) Hash() SecureHash {
	return SHA256(s.Raw)
}

// MapStats はネットワークマップの簡易統計。
type MapStats struct {
	NodeNames   []string `json:"nodeNames"`
	NotaryNames []string `json:"notaryNames"`
}
