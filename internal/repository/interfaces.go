// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/networkmap/internal/model"
)

// NodeInfoRepository は署名付きノード情報の永続化インターフェース。
// ノード情報はハッシュで保存し、最初の法的アイデンティティ名から
// 最新のハッシュへの対応を保持する。
type NodeInfoRepository interface {
	// Persist は署名付きノード情報を保存し、名前からハッシュへの対応を更新する。
	// infoは検証済みのNodeInfo。
	Persist(ctx context.Context, signed model.SignedNodeInfo, info model.NodeInfo) error

	// Find は指定ハッシュのノード情報を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, hash model.SecureHash) (*model.StoredNodeInfo, error)

	// AllHashes は名前ごとの最新ハッシュを重複なしで返す。
	AllHashes(ctx context.Context) ([]model.SecureHash, error)

	// PurgeAll はすべてのノード情報を削除し、削除した名前の件数を返す。
	PurgeAll(ctx context.Context) (int, error)
}

// NetworkParamsRepository は署名付きネットワークパラメータの永続化インターフェース。
type NetworkParamsRepository interface {
	// Persist は署名付きパラメータをRawのハッシュで保存する。既存の場合は何もしない。
	Persist(ctx context.Context, signed model.SignedData) error

	// Find は指定ハッシュのパラメータを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, hash model.SecureHash) (*model.SignedData, error)

	// AllHashes は保存済みパラメータのハッシュを保存順に返す。
	AllHashes(ctx context.Context) ([]model.SecureHash, error)

	// Latest は最後に保存したパラメータを返す。1件もない場合はnilを返す。
	Latest(ctx context.Context) (*model.SignedData, error)
}

// CertificateRequestRepository はドアマンの証明書署名要求の永続化インターフェース。
type CertificateRequestRepository interface {
	// Create は証明書署名要求を作成する。
	Create(ctx context.Context, req *model.CertificateRequest) error

	// FindByID は指定IDの要求を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.CertificateRequest, error)

	// UpdateCertificates は要求の状態と発行済み証明書チェーンを更新する。
	// 要求が存在しない場合はmodel.ErrNotFoundを返す。
	UpdateCertificates(ctx context.Context, id string, status model.CertificateRequestStatus, certificates [][]byte) error
}
