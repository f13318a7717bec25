package networkmap

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/networkmap/internal/certificates"
	"github.com/hitoshi/networkmap/internal/metrics"
	"github.com/hitoshi/networkmap/internal/model"
	"github.com/hitoshi/networkmap/internal/notaries"
	"github.com/hitoshi/networkmap/internal/repository"
	"github.com/hitoshi/networkmap/internal/serialization"
)

// --- モック定義 ---

type mockMetrics struct {
	mu       sync.Mutex
	publish  []string
	rebuilds []int
}

func (m *mockMetrics) RecordPublish(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publish = append(m.publish, result)
}

func (m *mockMetrics) RecordRebuild(_ time.Duration, nodeCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuilds = append(m.rebuilds, nodeCount)
}

func (m *mockMetrics) RecordHTTPStatus(int)      {}
func (m *mockMetrics) RecordCertificateRequest() {}

func (m *mockMetrics) lastPublish() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.publish) == 0 {
		return ""
	}
	return m.publish[len(m.publish)-1]
}

var _ metrics.MetricsCollector = (*mockMetrics)(nil)

// --- ヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testName(org string) model.X500Name {
	return model.X500Name{Organisation: org, Locality: "London", Country: "GB"}
}

type fixture struct {
	authority *certificates.Authority
	nodes     *repository.MemoryNodeInfoRepo
	params    *repository.MemoryNetworkParamsRepo
	metrics   *mockMetrics
	notaries  []model.NotaryInfo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	authority, err := certificates.LoadOrCreateAuthority("")
	if err != nil {
		t.Fatalf("LoadOrCreateAuthority returned error: %v", err)
	}
	return &fixture{
		authority: authority,
		nodes:     repository.NewMemoryNodeInfoRepo(),
		params:    repository.NewMemoryNetworkParamsRepo(),
		metrics:   &mockMetrics{},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		NodeInfos: f.nodes,
		Params:    f.params,
		Authority: f.authority,
		Notaries: notaries.LoaderFunc(func(context.Context) ([]model.NotaryInfo, error) {
			return f.notaries, nil
		}),
		Parameters: ParametersConfig{
			MinimumPlatformVersion: 1,
			MaxMessageSize:         10485760,
			MaxTransactionSize:     2147483647,
			Epoch:                  10,
		},
		Metrics: f.metrics,
		Logger:  discardLogger(),
		Now:     func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func (f *fixture) newService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), f.deps())
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

// signedNodeInfo は法的アイデンティティnameの署名済みノード情報をシリアライズして返す。
func signedNodeInfo(t *testing.T, name model.X500Name, serial int64) ([]byte, model.SecureHash) {
	t.Helper()
	key, err := certificates.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey returned error: %v", err)
	}
	return signWith(t, name, serial, key, key)
}

func signWith(t *testing.T, name model.X500Name, serial int64, owner, signer crypto.Signer) ([]byte, model.SecureHash) {
	t.Helper()
	party, err := certificates.NewParty(name, owner.Public())
	if err != nil {
		t.Fatalf("NewParty returned error: %v", err)
	}
	info := model.NodeInfo{
		Addresses:       []string{"localhost:10002"},
		LegalIdentities: []model.Party{party},
		PlatformVersion: 4,
		Serial:          serial,
	}
	signed, err := certificates.SignNodeInfo(info, signer)
	if err != nil {
		t.Fatalf("SignNodeInfo returned error: %v", err)
	}
	data, err := serialization.Marshal(signed)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	return data, signed.Hash()
}

// decodeMap は署名付きネットワークマップを検証してデコードする。
func decodeMap(t *testing.T, svc *Service, authority *certificates.Authority) model.NetworkMap {
	t.Helper()
	data, err := svc.NetworkMap()
	if err != nil {
		t.Fatalf("NetworkMap returned error: %v", err)
	}
	var signed model.SignedData
	if err := serialization.Unmarshal(data, &signed); err != nil {
		t.Fatalf("Unmarshal(SignedData) returned error: %v", err)
	}
	if _, err := certificates.VerifySignedData(signed, authority.RootPool()); err != nil {
		t.Fatalf("VerifySignedData returned error: %v", err)
	}
	var nm model.NetworkMap
	if err := serialization.Unmarshal(signed.Raw, &nm); err != nil {
		t.Fatalf("Unmarshal(NetworkMap) returned error: %v", err)
	}
	return nm
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *model.APIError with code %s", err, code)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %s, want %s", apiErr.Code, code)
	}
}

// --- テスト ---

func TestNewService_CreatesAndPersistsDefaultParameters(t *testing.T) {
	f := newFixture(t)
	notaryKey, _ := certificates.GenerateKey()
	notaryParty, _ := certificates.NewParty(testName("Notary"), notaryKey.Public())
	f.notaries = []model.NotaryInfo{{Identity: notaryParty, Validating: true}}

	svc := f.newService(t)

	hashes, err := f.params.AllHashes(context.Background())
	if err != nil {
		t.Fatalf("AllHashes returned error: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != svc.ParametersHash() {
		t.Fatalf("persisted hashes = %v, want [%s]", hashes, svc.ParametersHash())
	}

	data, err := svc.NetworkParameters(svc.ParametersHash().String())
	if err != nil {
		t.Fatalf("NetworkParameters returned error: %v", err)
	}
	var signed model.SignedData
	if err := serialization.Unmarshal(data, &signed); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if signed.Hash() != svc.ParametersHash() {
		t.Errorf("signed hash = %s, want %s", signed.Hash(), svc.ParametersHash())
	}
	if _, err := certificates.VerifySignedData(signed, f.authority.RootPool()); err != nil {
		t.Fatalf("VerifySignedData returned error: %v", err)
	}

	var params model.NetworkParameters
	if err := serialization.Unmarshal(signed.Raw, &params); err != nil {
		t.Fatalf("Unmarshal(NetworkParameters) returned error: %v", err)
	}
	if params.MinimumPlatformVersion != 1 || params.Epoch != 10 || params.MaxMessageSize != 10485760 {
		t.Errorf("params = %+v", params)
	}
	if len(params.Notaries) != 1 || params.Notaries[0].Identity.Name != testName("Notary") || !params.Notaries[0].Validating {
		t.Errorf("Notaries = %+v", params.Notaries)
	}
	if !params.ModifiedTime.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("ModifiedTime = %v", params.ModifiedTime)
	}
}

func TestNewService_ReusesPersistedParameters(t *testing.T) {
	f := newFixture(t)
	first := f.newService(t)

	// 別のCAで起動しても保存済みパラメータのハッシュは変わらない
	other, err := certificates.LoadOrCreateAuthority("")
	if err != nil {
		t.Fatalf("LoadOrCreateAuthority returned error: %v", err)
	}
	f.authority = other
	f.notaries = []model.NotaryInfo{{Identity: model.Party{Name: testName("Ignored")}}}
	second := f.newService(t)

	if second.ParametersHash() != first.ParametersHash() {
		t.Errorf("ParametersHash = %s, want %s", second.ParametersHash(), first.ParametersHash())
	}
	hashes, _ := f.params.AllHashes(context.Background())
	if len(hashes) != 1 {
		t.Errorf("persisted %d parameter sets, want 1", len(hashes))
	}

	data, err := second.NetworkParameters(first.ParametersHash().String())
	if err != nil {
		t.Fatalf("NetworkParameters returned error: %v", err)
	}
	var signed model.SignedData
	if err := serialization.Unmarshal(data, &signed); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if _, err := certificates.VerifySignedData(signed, other.RootPool()); err != nil {
		t.Errorf("parameters should be re-signed by the current CA: %v", err)
	}
}

func TestNewService_KeepsVerifiedPersistedSignature(t *testing.T) {
	f := newFixture(t)
	f.newService(t)
	stored, err := f.params.Latest(context.Background())
	if err != nil || stored == nil {
		t.Fatalf("Latest = %v, %v", stored, err)
	}

	second := f.newService(t)
	data, err := second.NetworkParameters(stored.Hash().String())
	if err != nil {
		t.Fatalf("NetworkParameters returned error: %v", err)
	}
	var signed model.SignedData
	if err := serialization.Unmarshal(data, &signed); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if !bytes.Equal(signed.Signature, stored.Signature) || !bytes.Equal(signed.Certificate, stored.Certificate) {
		t.Error("parameters signed by the current root should be served with the stored signature")
	}
}

func TestNewService_NotaryLoaderError(t *testing.T) {
	f := newFixture(t)
	deps := f.deps()
	loadErr := errors.New("notary directory unreadable")
	deps.Notaries = notaries.LoaderFunc(func(context.Context) ([]model.NotaryInfo, error) {
		return nil, loadErr
	})

	_, err := NewService(context.Background(), deps)
	if !errors.Is(err, loadErr) {
		t.Errorf("error = %v, want %v", err, loadErr)
	}
}

func TestNewService_BuildsEmptyMap(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(t)

	nm := decodeMap(t, svc, f.authority)
	if len(nm.NodeInfoHashes) != 0 {
		t.Errorf("NodeInfoHashes = %v, want empty", nm.NodeInfoHashes)
	}
	if nm.NetworkParameterHash != svc.ParametersHash() {
		t.Errorf("NetworkParameterHash = %s, want %s", nm.NetworkParameterHash, svc.ParametersHash())
	}
	if nm.ParametersUpdate != nil {
		t.Errorf("ParametersUpdate = %+v, want nil", nm.ParametersUpdate)
	}
}

func TestPublish_AddsNodeToMap(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(t)
	body, hash := signedNodeInfo(t, testName("Bank A"), 1)

	if err := svc.Publish(context.Background(), body); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	nm := decodeMap(t, svc, f.authority)
	if len(nm.NodeInfoHashes) != 1 || nm.NodeInfoHashes[0] != hash {
		t.Errorf("NodeInfoHashes = %v, want [%s]", nm.NodeInfoHashes, hash)
	}

	got, err := svc.NodeInfo(context.Background(), hash.String())
	if err != nil {
		t.Fatalf("NodeInfo returned error: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Error("NodeInfo should return the published bytes")
	}
	if f.metrics.lastPublish() != metrics.PublishAccepted {
		t.Errorf("publish metric = %q, want %q", f.metrics.lastPublish(), metrics.PublishAccepted)
	}
}

func TestPublish_RepublishReplacesHash(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(t)
	ctx := context.Background()

	first, _ := signedNodeInfo(t, testName("Bank A"), 1)
	second, secondHash := signedNodeInfo(t, testName("Bank A"), 2)
	if err := svc.Publish(ctx, first); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if err := svc.Publish(ctx, second); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	nm := decodeMap(t, svc, f.authority)
	if len(nm.NodeInfoHashes) != 1 || nm.NodeInfoHashes[0] != secondHash {
		t.Errorf("NodeInfoHashes = %v, want [%s]", nm.NodeInfoHashes, secondHash)
	}
}

func TestPublish_MalformedBody(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(t)

	err := svc.Publish(context.Background(), []byte("not a node info"))
	assertAPIErrorCode(t, err, model.ErrCodeMalformedNodeInfo)
	if f.metrics.lastPublish() != metrics.PublishMalformed {
		t.Errorf("publish metric = %q, want %q", f.metrics.lastPublish(), metrics.PublishMalformed)
	}
}

func TestPublish_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(t)
	owner, _ := certificates.GenerateKey()
	other, _ := certificates.GenerateKey()
	body, _ := signWith(t, testName("Bank A"), 1, owner, other)

	err := svc.Publish(context.Background(), body)
	assertAPIErrorCode(t, err, model.ErrCodeInvalidSignature)
	if f.metrics.lastPublish() != metrics.PublishInvalidSignature {
		t.Errorf("publish metric = %q, want %q", f.metrics.lastPublish(), metrics.PublishInvalidSignature)
	}

	hashes, _ := f.nodes.AllHashes(context.Background())
	if len(hashes) != 0 {
		t.Errorf("rejected node info was persisted: %v", hashes)
	}
}

func TestPublish_AfterClose(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(t)
	svc.Close()

	body, _ := signedNodeInfo(t, testName("Bank A"), 1)
	err := svc.Publish(context.Background(), body)
	assertAPIErrorCode(t, err, model.ErrCodeServiceUnavailable)
}

func TestPublish_ConcurrentPublishersAllVisible(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(t)

	const n = 8
	bodies := make([][]byte, n)
	for i := range bodies {
		bodies[i], _ = signedNodeInfo(t, testName(string(rune('A'+i))+" Bank"), 1)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, b := range bodies {
		wg.Add(1)
		go func(body []byte) {
			defer wg.Done()
			errs <- svc.Publish(context.Background(), body)
		}(b)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Publish returned error: %v", err)
		}
	}

	nm := decodeMap(t, svc, f.authority)
	if len(nm.NodeInfoHashes) != n {
		t.Errorf("len(NodeInfoHashes) = %d, want %d", len(nm.NodeInfoHashes), n)
	}
}

func TestNodeInfo_Errors(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(t)
	ctx := context.Background()

	_, err := svc.NodeInfo(ctx, "xyz")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidHash)

	_, err = svc.NodeInfo(ctx, model.SHA256([]byte("unknown")).String())
	assertAPIErrorCode(t, err, model.ErrCodeNodeInfoNotFound)
}

func TestNetworkParameters_UnknownHash(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(t)

	_, err := svc.NetworkParameters(model.SHA256([]byte("other")).String())
	assertAPIErrorCode(t, err, model.ErrCodeParametersNotFound)

	_, err = svc.NetworkParameters("not-a-hash")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidHash)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.notaries = []model.NotaryInfo{{
		Identity: model.Party{Name: model.X500Name{
			OrganisationUnit: "Ops", Organisation: "Notary <b>Service</b>", Locality: "Zurich", Country: "CH",
		}},
	}}
	svc := f.newService(t)
	ctx := context.Background()

	for _, org := range []string{"Bank A", "Bank B"} {
		body, _ := signedNodeInfo(t, testName(org), 1)
		if err := svc.Publish(ctx, body); err != nil {
			t.Fatalf("Publish returned error: %v", err)
		}
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	wantNotary := "organisationUnit=Ops organisation=Notary Service locality=Zurich country=CH"
	if len(stats.NotaryNames) != 1 || stats.NotaryNames[0] != wantNotary {
		t.Errorf("NotaryNames = %q, want [%q]", stats.NotaryNames, wantNotary)
	}
	if len(stats.NodeNames) != 2 {
		t.Fatalf("NodeNames = %q, want 2 entries", stats.NodeNames)
	}
	got := map[string]bool{}
	for _, n := range stats.NodeNames {
		got[n] = true
	}
	if !got["Bank A"] || !got["Bank B"] {
		t.Errorf("NodeNames = %q", stats.NodeNames)
	}
}

func TestStats_EmptyNetwork(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(t)

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.NodeNames == nil || stats.NotaryNames == nil {
		t.Error("Stats should return empty slices, not nil")
	}
}

func TestResetNodes(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(t)
	ctx := context.Background()

	for _, org := range []string{"Bank A", "Bank B"} {
		body, _ := signedNodeInfo(t, testName(org), 1)
		if err := svc.Publish(ctx, body); err != nil {
			t.Fatalf("Publish returned error: %v", err)
		}
	}

	n, err := svc.ResetNodes(ctx)
	if err != nil {
		t.Fatalf("ResetNodes returned error: %v", err)
	}
	if n != 2 {
		t.Errorf("ResetNodes = %d, want 2", n)
	}
	nm := decodeMap(t, svc, f.authority)
	if len(nm.NodeInfoHashes) != 0 {
		t.Errorf("NodeInfoHashes = %v, want empty after reset", nm.NodeInfoHashes)
	}
}

func TestTrustStore(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(t)

	pem := svc.TrustStore()
	if !bytes.Contains(pem, []byte("BEGIN CERTIFICATE")) {
		t.Errorf("TrustStore = %q", pem)
	}
}

func TestRebuild_RecordsMetrics(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(t)
	body, _ := signedNodeInfo(t, testName("Bank A"), 1)
	if err := svc.Publish(context.Background(), body); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	f.metrics.mu.Lock()
	defer f.metrics.mu.Unlock()
	if len(f.metrics.rebuilds) != 2 {
		t.Fatalf("rebuilds = %v, want initial build and one rebuild", f.metrics.rebuilds)
	}
	if f.metrics.rebuilds[1] != 1 {
		t.Errorf("node count = %d, want 1", f.metrics.rebuilds[1])
	}
}
