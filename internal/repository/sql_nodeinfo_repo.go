package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/networkmap/internal/database"
	"github.com/hitoshi/networkmap/internal/model"
	"github.com/hitoshi/networkmap/internal/serialization"
)

// SQLNodeInfoRepo はPostgreSQLまたはSQLiteを使用したノード情報リポジトリ。
type SQLNodeInfoRepo struct {
	db *database.DB
}

// NewSQLNodeInfoRepo はSQLNodeInfoRepoを生成する。
func NewSQLNodeInfoRepo(db *database.DB) *SQLNodeInfoRepo {
	return &SQLNodeInfoRepo{db: db}
}

// Persist は署名付きノード情報を保存し、名前からハッシュへの対応を同一トランザクションで更新する。
func (r *SQLNodeInfoRepo) Persist(ctx context.Context, signed model.SignedNodeInfo, info model.NodeInfo) error {
	if len(info.LegalIdentities) == 0 {
		return fmt.Errorf("ノード情報に法的アイデンティティがありません: %w", model.ErrMalformedPayload)
	}

	data, err := serialization.Marshal(signed)
	if err != nil {
		return fmt.Errorf("ノード情報のシリアライズに失敗しました: %w", err)
	}
	hash := signed.Hash().String()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO node_infos (hash, signed_bytes) VALUES (?, ?)
		 ON CONFLICT (hash) DO UPDATE SET signed_bytes = excluded.signed_bytes, published_at = CURRENT_TIMESTAMP`),
		hash, data,
	)
	if err != nil {
		return fmt.Errorf("ノード情報の保存に失敗しました: %w", err)
	}

	_, err = tx.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO node_hash_by_name (legal_name, hash) VALUES (?, ?)
		 ON CONFLICT (legal_name) DO UPDATE SET hash = excluded.hash, updated_at = CURRENT_TIMESTAMP`),
		info.LegalIdentities[0].Name.String(), hash,
	)
	if err != nil {
		return fmt.Errorf("名前とハッシュの対応の保存に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Find は指定ハッシュのノード情報を取得する。見つからない場合はnilを返す。
func (r *SQLNodeInfoRepo) Find(ctx context.Context, hash model.SecureHash) (*model.StoredNodeInfo, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		r.db.Rebind(`SELECT signed_bytes FROM node_infos WHERE hash = ?`),
		hash.String(),
	).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ノード情報の取得に失敗しました: %w", err)
	}

	var signed model.SignedNodeInfo
	if err := serialization.Unmarshal(data, &signed); err != nil {
		return nil, fmt.Errorf("保存済みノード情報のデコードに失敗しました: %w", err)
	}

	return &model.StoredNodeInfo{Hash: hash, Signed: signed, Bytes: data}, nil
}

// AllHashes は名前ごとの最新ハッシュを重複なしで返す。
func (r *SQLNodeInfoRepo) AllHashes(ctx context.Context) ([]model.SecureHash, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT hash FROM node_hash_by_name ORDER BY hash`,
	)
	if err != nil {
		return nil, fmt.Errorf("ノード情報ハッシュ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanHashes(rows)
}

// PurgeAll はすべてのノード情報を削除し、削除した名前の件数を返す。
func (r *SQLNodeInfoRepo) PurgeAll(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM node_hash_by_name`)
	if err != nil {
		return 0, fmt.Errorf("名前とハッシュの対応の削除に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM node_infos`); err != nil {
		return 0, fmt.Errorf("ノード情報の削除に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(n), nil
}

// scanHashes は1列のハッシュ文字列の結果セットを読み込む。
func scanHashes(rows *sql.Rows) ([]model.SecureHash, error) {
	var hashes []model.SecureHash
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("ハッシュのスキャンに失敗しました: %w", err)
		}
		h, err := model.ParseSecureHash(s)
		if err != nil {
			return nil, fmt.Errorf("保存済みハッシュが不正です: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("結果セットの読み込みに失敗しました: %w", err)
	}
	return hashes, nil
}
