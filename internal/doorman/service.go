// Package doorman はノードの証明書署名要求を受け付けるドアマンを提供する。
// 開発用ネットワーク向けに、受け付けた要求は即座に承認して署名する。
package doorman

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/networkmap/internal/certificates"
	"github.com/hitoshi/networkmap/internal/metrics"
	"github.com/hitoshi/networkmap/internal/model"
	"github.com/hitoshi/networkmap/internal/repository"
)

// chainFileNames は証明書チェーンzip内のファイル名。順序はチェーンと一致する。
var chainFileNames = []string{"nodeca.pem", "doorman.pem", "root.pem"}

// Service はドアマンのビジネスロジックを提供する。
type Service struct {
	repo      repository.CertificateRequestRepository
	authority *certificates.Authority
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.CertificateRequestRepository,
	authority *certificates.Authority,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		authority: authority,
		metrics:   collector,
		logger:    logger,
	}
}

// Submit はDER形式のPKCS#10要求を受け付け、要求IDを返す。
// 要求の自己署名を検証してドアマンCAでノードCA証明書を発行し、署名済みとして保存する。
// 発行済み証明書の保存に失敗した要求は拒否済みにし、署名待ちのまま残さない。
func (s *Service) Submit(ctx context.Context, csrDER []byte) (string, error) {
	csr, name, err := certificates.ParseCSR(csrDER)
	if err != nil {
		return "", model.NewInvalidCSRError(err.Error())
	}

	nodeCA, err := certificates.SignNodeCA(s.authority.Doorman, csr, name)
	if err != nil {
		return "", fmt.Errorf("ノードCA証明書の発行に失敗: %w", err)
	}
	chain := [][]byte{
		nodeCA.Raw,
		s.authority.Doorman.Certificate.Raw,
		s.authority.Root.Certificate.Raw,
	}

	req := &model.CertificateRequest{
		ID:      uuid.New().String(),
		Subject: name.String(),
		CSR:     csrDER,
		Status:  model.CertificateRequestPending,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return "", fmt.Errorf("証明書署名要求の保存に失敗: %w", err)
	}
	s.metrics.RecordCertificateRequest()

	if err := s.repo.UpdateCertificates(ctx, req.ID, model.CertificateRequestSigned, chain); err != nil {
		s.reject(ctx, req.ID, err)
		return "", fmt.Errorf("発行済み証明書の保存に失敗: %w", err)
	}

	s.logger.Info("証明書署名要求を承認しました",
		slog.String("request_id", req.ID),
		slog.String("subject", req.Subject),
	)
	return req.ID, nil
}

func (s *Service) reject(ctx context.Context, id string, cause error) {
	if err := s.repo.UpdateCertificates(ctx, id, model.CertificateRequestRejected, nil); err != nil {
		s.logger.Error("証明書署名要求を拒否済みにできませんでした",
			slog.String("request_id", id),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Warn("証明書署名要求を拒否済みにしました",
		slog.String("request_id", id),
		slog.String("cause", cause.Error()),
	)
}

// Retrieve は署名済みの証明書チェーンをzipで返す。
// 要求が署名待ちの場合はnilを返す。
func (s *Service) Retrieve(ctx context.Context, id string) ([]byte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewCertificateRequestNotFoundError(id)
	}
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Status == model.CertificateRequestRejected {
		return nil, model.NewCertificateRequestNotFoundError(id)
	}
	if req.Status != model.CertificateRequestSigned {
		return nil, nil
	}
	return certificates.CertificateChainZip(chainFileNames, req.Certificates)
}

// DevKeyStores は開発用ノードのキーストア一式をzipで返す。
// ノードCAはドアマンCAで発行するため、ネットワークマップのルートCAにチェーンする。
func (s *Service) DevKeyStores(name model.X500Name) ([]byte, error) {
	data, err := certificates.DevKeyStores(s.authority.Doorman, s.authority.Root.Certificate, name)
	if err != nil {
		return nil, fmt.Errorf("開発用キーストアの生成に失敗: %w", err)
	}
	s.logger.Info("開発用キーストアを発行しました", slog.String("legal_name", name.String()))
	return data, nil
}
