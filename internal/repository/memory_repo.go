package repository

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/networkmap/internal/model"
	"github.com/hitoshi/networkmap/internal/serialization"
)

// MemoryNodeInfoRepo はプロセス内メモリに保持するノード情報リポジトリ。
// DATABASE_URLがmemory://の場合に使用する。
type MemoryNodeInfoRepo struct {
	mu     sync.Mutex
	byHash map[model.SecureHash]model.StoredNodeInfo
	byName map[string]model.SecureHash
}

// NewMemoryNodeInfoRepo はMemoryNodeInfoRepoを生成する。
func NewMemoryNodeInfoRepo() *MemoryNodeInfoRepo {
	return &MemoryNodeInfoRepo{
		byHash: make(map[model.SecureHash]model.StoredNodeInfo),
		byName: make(map[string]model.SecureHash),
	}
}

func (r *MemoryNodeInfoRepo) Persist(_ context.Context, signed model.SignedNodeInfo, info model.NodeInfo) error {
	if len(info.LegalIdentities) == 0 {
		return fmt.Errorf("ノード情報に法的アイデンティティがありません: %w", model.ErrMalformedPayload)
	}

	data, err := serialization.Marshal(signed)
	if err != nil {
		return fmt.Errorf("ノード情報のシリアライズに失敗しました: %w", err)
	}
	hash := signed.Hash()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHash[hash] = model.StoredNodeInfo{Hash: hash, Signed: signed, Bytes: data}
	r.byName[info.LegalIdentities[0].Name.String()] = hash
	return nil
}

func (r *MemoryNodeInfoRepo) Find(_ context.Context, hash model.SecureHash) (*model.StoredNodeInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byHash[hash]
	if !ok {
		return nil, nil
	}
	return &stored, nil
}

func (r *MemoryNodeInfoRepo) AllHashes(_ context.Context) ([]model.SecureHash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[model.SecureHash]struct{}, len(r.byName))
	hashes := make([]model.SecureHash, 0, len(r.byName))
	for _, h := range r.byName {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		hashes = append(hashes, h)
	}
	sortHashes(hashes)
	return hashes, nil
}

func (r *MemoryNodeInfoRepo) PurgeAll(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.byName)
	r.byHash = make(map[model.SecureHash]model.StoredNodeInfo)
	r.byName = make(map[string]model.SecureHash)
	return n, nil
}

// MemoryNetworkParamsRepo はプロセス内メモリに保持するネットワークパラメータリポジトリ。
type MemoryNetworkParamsRepo struct {
	mu     sync.Mutex
	order  []model.SecureHash
	byHash map[model.SecureHash]model.SignedData
}

// NewMemoryNetworkParamsRepo はMemoryNetworkParamsRepoを生成する。
func NewMemoryNetworkParamsRepo() *MemoryNetworkParamsRepo {
	return &MemoryNetworkParamsRepo{byHash: make(map[model.SecureHash]model.SignedData)}
}

func (r *MemoryNetworkParamsRepo) Persist(_ context.Context, signed model.SignedData) error {
	hash := signed.Hash()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHash[hash]; ok {
		return nil
	}
	r.byHash[hash] = signed
	r.order = append(r.order, hash)
	return nil
}

func (r *MemoryNetworkParamsRepo) Find(_ context.Context, hash model.SecureHash) (*model.SignedData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	signed, ok := r.byHash[hash]
	if !ok {
		return nil, nil
	}
	return &signed, nil
}

func (r *MemoryNetworkParamsRepo) AllHashes(_ context.Context) ([]model.SecureHash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SecureHash(nil), r.order...), nil
}

func (r *MemoryNetworkParamsRepo) Latest(_ context.Context) (*model.SignedData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return nil, nil
	}
	signed := r.byHash[r.order[len(r.order)-1]]
	return &signed, nil
}

// MemoryCertificateRequestRepo はプロセス内メモリに保持する証明書署名要求リポジトリ。
type MemoryCertificateRequestRepo struct {
	mu       sync.Mutex
	requests map[string]model.CertificateRequest
}

// NewMemoryCertificateRequestRepo はMemoryCertificateRequestRepoを生成する。
func NewMemoryCertificateRequestRepo() *MemoryCertificateRequestRepo {
	return &MemoryCertificateRequestRepo{requests: make(map[string]model.CertificateRequest)}
}

func (r *MemoryCertificateRequestRepo) Create(_ context.Context, req *model.CertificateRequest) error {
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

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[req.ID]; ok {
		return fmt.Errorf("証明書署名要求 %s は既に存在します", req.ID)
	}
	r.requests[req.ID] = *req
	return nil
}

func (r *MemoryCertificateRequestRepo) FindByID(_ context.Context, id string) (*model.CertificateRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (r *MemoryCertificateRequestRepo) UpdateCertificates(_ context.Context, id string, status model.CertificateRequestStatus, certificates [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return fmt.Errorf("証明書署名要求 %s: %w", id, model.ErrNotFound)
	}
	req.Status = status
	req.Certificates = certificates
	req.UpdatedAt = time.Now().UTC()
	r.requests[id] = req
	return nil
}

// sortHashes はSQL実装のORDER BY hashと同じ順序に並べる。
func sortHashes(hashes []model.SecureHash) {
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
}
