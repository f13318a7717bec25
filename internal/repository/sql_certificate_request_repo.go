package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/networkmap/internal/database"
	"github.com/hitoshi/networkmap/internal/model"
	"github.com/hitoshi/networkmap/internal/serialization"
)

// SQLCertificateRequestRepo はPostgreSQLまたはSQLiteを使用した証明書署名要求リポジトリ。
type SQLCertificateRequestRepo struct {
	db *database.DB
}

// NewSQLCertificateRequestRepo はSQLCertificateRequestRepoを生成する。
func NewSQLCertificateRequestRepo(db *database.DB) *SQLCertificateRequestRepo {
	return &SQLCertificateRequestRepo{db: db}
}

// Create は証明書署名要求を作成する。
// CreatedAt、UpdatedAtが未設定の場合は現在時刻を設定する。
func (r *SQLCertificateRequestRepo) Create(ctx context.Context, req *model.CertificateRequest) error {
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = now
	}
	if req.Status == "" {
		req.Status = model.CertificateRequestPending
	}

	certs, err := encodeChain(req.Certificates)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO certificate_requests (id, subject, csr, status, certificates, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		req.ID, req.Subject, req.CSR, string(req.Status), certs, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("証明書署名要求の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの要求を取得する。見つからない場合はnilを返す。
func (r *SQLCertificateRequestRepo) FindByID(ctx context.Context, id string) (*model.CertificateRequest, error) {
	req := &model.CertificateRequest{}
	var status string
	var certs []byte

	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT id, subject, csr, status, certificates, created_at, updated_at
		 FROM certificate_requests WHERE id = ?`),
		id,
	).Scan(&req.ID, &req.Subject, &req.CSR, &status, &certs, &req.CreatedAt, &req.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("証明書署名要求の取得に失敗しました: %w", err)
	}

	req.Status = model.CertificateRequestStatus(status)
	if len(certs) > 0 {
		if err := serialization.Unmarshal(certs, &req.Certificates); err != nil {
			return nil, fmt.Errorf("証明書チェーンのデコードに失敗しました: %w", err)
		}
	}
	return req, nil
}

// UpdateCertificates は要求の状態と発行済み証明書チェーンを更新する。
func (r *SQLCertificateRequestRepo) UpdateCertificates(ctx context.Context, id string, status model.CertificateRequestStatus, certificates [][]byte) error {
	certs, err := encodeChain(certificates)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE certificate_requests SET status = ?, certificates = ?, updated_at = ? WHERE id = ?`),
		string(status), certs, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("証明書署名要求の更新に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("証明書署名要求 %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// encodeChain は証明書チェーンを保存用にシリアライズする。空の場合はnilを返す。
func encodeChain(chain [][]byte) ([]byte, error) {
	if len(chain) == 0 {
		return nil, nil
	}
	data, err := serialization.Marshal(chain)
	if err != nil {
		return nil, fmt.Errorf("証明書チェーンのシリアライズに失敗しました: %w", err)
	}
	return data, nil
}
