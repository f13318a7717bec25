// Package networkmap はネットワークマップサービスを提供する。
// ノード情報の公開受付、署名済みネットワークマップの再構築、
// ネットワークパラメータの配布を担当する。
package networkmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hitoshi/networkmap/internal/certificates"
	"github.com/hitoshi/networkmap/internal/metrics"
	"github.com/hitoshi/networkmap/internal/model"
	"github.com/hitoshi/networkmap/internal/notaries"
	"github.com/hitoshi/networkmap/internal/repository"
	"github.com/hitoshi/networkmap/internal/security"
	"github.com/hitoshi/networkmap/internal/serialization"
)

// ParametersConfig は初回起動時に生成するネットワークパラメータの設定値。
type ParametersConfig struct {
	MinimumPlatformVersion int
	MaxMessageSize         int
	MaxTransactionSize     int
	Epoch                  int
}

// Deps はServiceの依存関係。
type Deps struct {
	NodeInfos  repository.NodeInfoRepository
	Params     repository.NetworkParamsRepository
	Authority  *certificates.Authority
	Notaries   notaries.Loader
	Parameters ParametersConfig
	Sanitizer  security.NameSanitizerService
	Metrics    metrics.MetricsCollector
	Logger     *slog.Logger
	Now        func() time.Time // nilの場合はtime.Now
}

// Service はネットワークマップのビジネスロジックを提供する。
type Service struct {
	nodeInfos repository.NodeInfoRepository
	authority *certificates.Authority
	sanitizer security.NameSanitizerService
	metrics   metrics.MetricsCollector
	logger    *slog.Logger

	params      model.NetworkParameters
	paramsHash  model.SecureHash
	paramsBytes []byte

	networkMap atomic.Pointer[[]byte]
	rebuilder  *rebuilder
}

// NewService は現行のネットワークパラメータを確定し、初期ネットワークマップを構築する。
// パラメータが未保存の場合はノータリー一覧を読み込んで生成し、保存する。
// 保存済みの署名がルートCAで検証できない場合は、現在のネットワークマップCAで再署名する。
func NewService(ctx context.Context, deps Deps) (*Service, error) {
	if deps.Sanitizer == nil {
		deps.Sanitizer = security.NewNameSanitizer()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Service{
		nodeInfos: deps.NodeInfos,
		authority: deps.Authority,
		sanitizer: deps.Sanitizer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}

	signed, params, err := s.loadParameters(ctx, deps)
	if err != nil {
		return nil, err
	}
	data, err := serialization.Marshal(signed)
	if err != nil {
		return nil, err
	}
	s.params = params
	s.paramsHash = signed.Hash()
	s.paramsBytes = data

	s.logger.Info("ネットワークパラメータを確定しました",
		slog.String("hash", s.paramsHash.String()),
		slog.Int("notary_count", len(params.Notaries)),
		slog.Int("epoch", params.Epoch),
	)

	if err := s.rebuild(ctx); err != nil {
		return nil, fmt.Errorf("初期ネットワークマップの構築に失敗: %w", err)
	}

	s.rebuilder = newRebuilder(s.rebuild, s.logger)
	s.rebuilder.start()
	return s, nil
}

func (s *Service) loadParameters(ctx context.Context, deps Deps) (model.SignedData, model.NetworkParameters, error) {
	latest, err := deps.Params.Latest(ctx)
	if err != nil {
		return model.SignedData{}, model.NetworkParameters{}, err
	}

	if latest != nil {
		var params model.NetworkParameters
		if err := serialization.Unmarshal(latest.Raw, &params); err != nil {
			return model.SignedData{}, model.NetworkParameters{}, fmt.Errorf("保存済みネットワークパラメータのデコードに失敗: %w", err)
		}
		_, verifyErr := certificates.VerifySignedData(*latest, s.authority.RootPool())
		if verifyErr == nil {
			return *latest, params, nil
		}
		s.logger.Warn("保存済みネットワークパラメータを現在のCAで再署名します",
			slog.String("hash", latest.Hash().String()),
			slog.String("reason", verifyErr.Error()),
		)
		signed, err := certificates.SignRawWithCert(latest.Raw, s.authority.NetworkMap)
		if err != nil {
			return model.SignedData{}, model.NetworkParameters{}, err
		}
		return signed, params, nil
	}

	notaryInfos, err := deps.Notaries.Load(ctx)
	if err != nil {
		return model.SignedData{}, model.NetworkParameters{}, fmt.Errorf("ノータリー一覧の読み込みに失敗: %w", err)
	}
	if notaryInfos == nil {
		notaryInfos = []model.NotaryInfo{}
	}
	params := model.NetworkParameters{
		MinimumPlatformVersion:             deps.Parameters.MinimumPlatformVersion,
		Notaries:                           notaryInfos,
		MaxMessageSize:                     deps.Parameters.MaxMessageSize,
		MaxTransactionSize:                 deps.Parameters.MaxTransactionSize,
		ModifiedTime:                       deps.Now().UTC(),
		Epoch:                              deps.Parameters.Epoch,
		WhitelistedContractImplementations: model.ContractWhitelist{},
	}
	signed, err := certificates.SignWithCert(params, s.authority.NetworkMap)
	if err != nil {
		return model.SignedData{}, model.NetworkParameters{}, err
	}
	if err := deps.Params.Persist(ctx, signed); err != nil {
		return model.SignedData{}, model.NetworkParameters{}, fmt.Errorf("ネットワークパラメータの保存に失敗: %w", err)
	}
	return signed, params, nil
}

// rebuild は保存済みノード情報のハッシュ一覧からネットワークマップを構築し、署名して差し替える。
func (s *Service) rebuild(ctx context.Context) error {
	start := time.Now()

	hashes, err := s.nodeInfos.AllHashes(ctx)
	if err != nil {
		return err
	}
	if hashes == nil {
		hashes = []model.SecureHash{}
	}
	networkMap := model.NetworkMap{
		NodeInfoHashes:       hashes,
		NetworkParameterHash: s.paramsHash,
	}
	signed, err := certificates.SignWithCert(networkMap, s.authority.NetworkMap)
	if err != nil {
		return err
	}
	data, err := serialization.Marshal(signed)
	if err != nil {
		return err
	}
	s.networkMap.Store(&data)

	duration := time.Since(start)
	s.metrics.RecordRebuild(duration, len(hashes))
	s.logger.Debug("ネットワークマップを再構築しました",
		slog.Int("node_count", len(hashes)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Publish は署名付きノード情報を検証して保存し、ネットワークマップの再構築完了を待つ。
func (s *Service) Publish(ctx context.Context, body []byte) error {
	signed, info, err := certificates.DecodeVerifiedNodeInfo(body)
	if err != nil {
		if errors.Is(err, model.ErrInvalidSignature) {
			s.metrics.RecordPublish(metrics.PublishInvalidSignature)
			s.logger.Warn("署名を検証できないノード情報を拒否しました", slog.String("error", err.Error()))
			return fmt.Errorf("%w: %v", model.NewInvalidSignatureError(), err)
		}
		s.metrics.RecordPublish(metrics.PublishMalformed)
		s.logger.Warn("デコードできないノード情報を拒否しました", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", model.NewMalformedNodeInfoError(), err)
	}

	if err := s.nodeInfos.Persist(ctx, signed, info); err != nil {
		s.metrics.RecordPublish(metrics.PublishError)
		return fmt.Errorf("ノード情報の保存に失敗: %w", err)
	}
	s.logger.Info("ノード情報を受け付けました",
		slog.String("hash", signed.Hash().String()),
		slog.String("legal_name", info.LegalIdentities[0].Name.String()),
	)

	if err := s.requestRebuild(ctx); err != nil {
		s.metrics.RecordPublish(metrics.PublishError)
		return err
	}
	s.metrics.RecordPublish(metrics.PublishAccepted)
	return nil
}

func (s *Service) requestRebuild(ctx context.Context) error {
	err := s.rebuilder.request(ctx)
	if errors.Is(err, errRebuilderClosed) {
		return model.NewServiceUnavailableError()
	}
	return err
}

// NodeInfo は指定ハッシュのシリアライズ済みSignedNodeInfoを返す。
func (s *Service) NodeInfo(ctx context.Context, rawHash string) ([]byte, error) {
	hash, err := model.ParseSecureHash(rawHash)
	if err != nil {
		return nil, model.NewInvalidHashError(rawHash)
	}
	stored, err := s.nodeInfos.Find(ctx, hash)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, model.NewNodeInfoNotFoundError(hash.String())
	}
	return stored.Bytes, nil
}

// NetworkMap は最新のシリアライズ済み署名付きネットワークマップを返す。
func (s *Service) NetworkMap() ([]byte, error) {
	data := s.networkMap.Load()
	if data == nil {
		return nil, model.NewNetworkMapUnavailableError()
	}
	return *data, nil
}

// NetworkParameters はハッシュが現行パラメータと一致する場合に
// シリアライズ済み署名付きパラメータを返す。
func (s *Service) NetworkParameters(rawHash string) ([]byte, error) {
	hash, err := model.ParseSecureHash(rawHash)
	if err != nil {
		return nil, model.NewInvalidHashError(rawHash)
	}
	if hash != s.paramsHash {
		return nil, model.NewParametersNotFoundError(hash.String())
	}
	return s.paramsBytes, nil
}

// ParametersHash は現行ネットワークパラメータのハッシュを返す。
func (s *Service) ParametersHash() model.SecureHash {
	return s.paramsHash
}

// Stats はノータリーと公開済みノードの名前一覧を返す。
func (s *Service) Stats(ctx context.Context) (*model.MapStats, error) {
	stats := &model.MapStats{NodeNames: []string{}, NotaryNames: []string{}}

	for _, n := range s.params.Notaries {
		name := n.Identity.Name
		stats.NotaryNames = append(stats.NotaryNames, s.sanitizer.Sanitize(fmt.Sprintf(
			"organisationUnit=%s organisation=%s locality=%s country=%s",
			name.OrganisationUnit, name.Organisation, name.Locality, name.Country,
		)))
	}

	hashes, err := s.nodeInfos.AllHashes(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range hashes {
		stored, err := s.nodeInfos.Find(ctx, h)
		if err != nil {
			return nil, err
		}
		// 取得までの間に削除された場合
		if stored == nil {
			continue
		}
		var info model.NodeInfo
		if err := serialization.Unmarshal(stored.Signed.Raw, &info); err != nil {
			return nil, fmt.Errorf("ノード情報のデコードに失敗 (hash=%s): %w", h, err)
		}
		if len(info.LegalIdentities) == 0 {
			continue
		}
		stats.NodeNames = append(stats.NodeNames, s.sanitizer.Sanitize(info.LegalIdentities[0].Name.Organisation))
	}
	return stats, nil
}

// ResetNodes は保存済みノード情報をすべて削除し、ネットワークマップを再構築する。
// 削除した件数を返す。
func (s *Service) ResetNodes(ctx context.Context) (int, error) {
	n, err := s.nodeInfos.PurgeAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("ノード情報の削除に失敗: %w", err)
	}
	s.logger.Info("保存済みノード情報を削除しました", slog.Int("deleted_count", n))

	if err := s.requestRebuild(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// TrustStore はノードが信頼するルートCAのPEMを返す。
func (s *Service) TrustStore() []byte {
	return certificates.TrustStorePEM(s.authority.Root.Certificate)
}

// Close は再構築ワーカーを停止する。
func (s *Service) Close() {
	s.rebuilder.stop()
}
