package model

import (
	"errors"
	"fmt"
)

// ドメイン層のセンチネルエラー。
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidHash       = errors.New("invalid secure hash")
	ErrInvalidName       = errors.New("invalid X.500 name")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrUntrustedIdentity = errors.New("untrusted certificate")
)

// APIError は統一エラーフォーマットを表す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, network_map, doorman, system
	Action   string // クライアント向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNodeInfoNotFound      = "NODE_INFO_NOT_FOUND"
	ErrCodeParametersNotFound    = "NETWORK_PARAMETERS_NOT_FOUND"
	ErrCodeNetworkMapUnavailable = "NETWORK_MAP_UNAVAILABLE"
	ErrCodeInvalidHash           = "INVALID_HASH"
	ErrCodeMalformedNodeInfo     = "MALFORMED_NODE_INFO"
	ErrCodeInvalidSignature      = "INVALID_SIGNATURE"
	ErrCodeInvalidNodeConfig     = "INVALID_NODE_CONFIG"
	ErrCodeInvalidCSR            = "INVALID_CSR"
	ErrCodeCertificateNotFound   = "CERTIFICATE_REQUEST_NOT_FOUND"
	ErrCodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	ErrCodePayloadTooLarge       = "PAYLOAD_TOO_LARGE"
)

// NewNodeInfoNotFoundError はノード情報未検出エラーを生成する。
func NewNodeInfoNotFoundError(hash string) *APIError {
	return &APIError{
		Code:     ErrCodeNodeInfoNotFound,
		Message:  fmt.Sprintf("指定されたノード情報が見つかりません: %s", hash),
		Category: "network_map",
		Action:   "ネットワークマップを再取得し、最新のハッシュを指定してください。",
	}
}

// NewParametersNotFoundError はネットワークパラメータ未検出エラーを生成する。
func NewParametersNotFoundError(hash string) *APIError {
	return &APIError{
		Code:     ErrCodeParametersNotFound,
		Message:  fmt.Sprintf("指定されたネットワークパラメータが見つかりません: %s", hash),
		Category: "network_map",
		Action:   "ネットワークマップに記載されたパラメータハッシュを指定してください。",
	}
}

// NewNetworkMapUnavailableError はネットワークマップ未構築エラーを生成する。
func NewNetworkMapUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeNetworkMapUnavailable,
		Message:  "ネットワークマップはまだ構築されていません。",
		Category: "network_map",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidHashError は不正なハッシュ指定エラーを生成する。
func NewInvalidHashError(hash string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidHash,
		Message:  fmt.Sprintf("無効なハッシュです: %s", hash),
		Category: "validation",
		Action:   "64文字の16進数SHA-256ハッシュを指定してください。",
	}
}

// NewMalformedNodeInfoError はノード情報のデコード失敗エラーを生成する。
func NewMalformedNodeInfoError() *APIError {
	return &APIError{
		Code:     ErrCodeMalformedNodeInfo,
		Message:  "署名付きノード情報をデコードできませんでした。",
		Category: "validation",
		Action:   "ノードが生成したnodeInfoファイルをそのまま送信してください。",
	}
}

// NewInvalidSignatureError は署名検証失敗エラーを生成する。
func NewInvalidSignatureError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSignature,
		Message:  "ノード情報の署名を検証できませんでした。",
		Category: "validation",
		Action:   "各法的アイデンティティの鍵で署名されていることを確認してください。",
	}
}

// NewInvalidNodeConfigError はノード設定の解析失敗エラーを生成する。
func NewInvalidNodeConfigError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidNodeConfig,
		Message:  fmt.Sprintf("ノード設定を解析できませんでした: %s", reason),
		Category: "validation",
		Action:   "myLegalNameを含むnode.confを送信してください。",
	}
}

// NewInvalidCSRError は証明書署名要求の検証失敗エラーを生成する。
func NewInvalidCSRError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCSR,
		Message:  fmt.Sprintf("証明書署名要求が無効です: %s", reason),
		Category: "doorman",
		Action:   "DER形式のPKCS#10要求を送信してください。",
	}
}

// NewCertificateRequestNotFoundError は証明書署名要求の未検出エラーを生成する。
func NewCertificateRequestNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeCertificateNotFound,
		Message:  fmt.Sprintf("指定された証明書署名要求が見つかりません: %s", id),
		Category: "doorman",
		Action:   "登録時に返された要求IDを確認してください。",
	}
}

// NewServiceUnavailableError はサービス停止中エラーを生成する。
func NewServiceUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeServiceUnavailable,
		Message:  "サービスは停止処理中です。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPayloadTooLargeError はリクエストボディのサイズ超過エラーを生成する。
func NewPayloadTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodePayloadTooLarge,
		Message:  fmt.Sprintf("リクエストボディが上限(%dバイト)を超えています。", limit),
		Category: "validation",
		Action:   "送信するデータのサイズを確認してください。",
	}
}
