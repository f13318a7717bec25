package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/networkmap/internal/database"
	"github.com/hitoshi/networkmap/internal/model"
	"github.com/hitoshi/networkmap/internal/serialization"
)

// SQLNetworkParamsRepo はPostgreSQLまたはSQLiteを使用したネットワークパラメータリポジトリ。
type SQLNetworkParamsRepo struct {
	db *database.DB
}

// NewSQLNetworkParamsRepo はSQLNetworkParamsRepoを生成する。
func NewSQLNetworkParamsRepo(db *database.DB) *SQLNetworkParamsRepo {
	return &SQLNetworkParamsRepo{db: db}
}

// Persist は署名付きパラメータをRawのハッシュで保存する。既存の場合は何もしない。
func (r *SQLNetworkParamsRepo) Persist(ctx context.Context, signed model.SignedData) error {
	data, err := serialization.Marshal(signed)
	if err != nil {
		return fmt.Errorf("ネットワークパラメータのシリアライズに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO network_parameters (hash, signed_bytes) VALUES (?, ?)
		 ON CONFLICT (hash) DO NOTHING`),
		signed.Hash().String(), data,
	)
	if err != nil {
		return fmt.Errorf("ネットワークパラメータの保存に失敗しました: %w", err)
	}
	return nil
}

// Find は指定ハッシュのパラメータを取得する。見つからない場合はnilを返す。
func (r *SQLNetworkParamsRepo) Find(ctx context.Context, hash model.SecureHash) (*model.SignedData, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		r.db.Rebind(`SELECT signed_bytes FROM network_parameters WHERE hash = ?`),
		hash.String(),
	).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ネットワークパラメータの取得に失敗しました: %w", err)
	}
	return decodeSignedData(data)
}

// AllHashes は保存済みパラメータのハッシュを保存順に返す。
func (r *SQLNetworkParamsRepo) AllHashes(ctx context.Context) ([]model.SecureHash, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT hash FROM network_parameters ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("ネットワークパラメータハッシュ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanHashes(rows)
}

// Latest は最後に保存したパラメータを返す。1件もない場合はnilを返す。
func (r *SQLNetworkParamsRepo) Latest(ctx context.Context) (*model.SignedData, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT signed_bytes FROM network_parameters ORDER BY id DESC LIMIT 1`,
	).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("最新ネットワークパラメータの取得に失敗しました: %w", err)
	}
	return decodeSignedData(data)
}

func decodeSignedData(data []byte) (*model.SignedData, error) {
	var signed model.SignedData
	if err := serialization.Unmarshal(data, &signed); err != nil {
		return nil, fmt.Errorf("保存済みネットワークパラメータのデコードに失敗しました: %w", err)
	}
	return &signed, nil
}
