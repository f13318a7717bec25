package serialization

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/networkmap/internal/model"
)

func testParams() model.NetworkParameters {
	return model.NetworkParameters{
		MinimumPlatformVersion: 1,
		MaxMessageSize:         10485760,
		MaxTransactionSize:     2147483647,
		ModifiedTime:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Epoch:                  10,
		WhitelistedContractImplementations: model.ContractWhitelist{
			"com.example.B": {model.SHA256([]byte("b"))},
			"com.example.A": {model.SHA256([]byte("a"))},
			"com.example.C": {model.SHA256([]byte("c"))},
		},
	}
}

func TestMarshal_IsDeterministic(t *testing.T) {
	first, err := Marshal(testParams())
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(testParams())
		if err != nil {
			t.Fatalf("Marshal returned error: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("Marshal produced different bytes for the same value")
		}
	}
}

func TestUnmarshal_RestoresParameters(t *testing.T) {
	in := testParams()
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}

	var out model.NetworkParameters
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if !out.ModifiedTime.Equal(in.ModifiedTime) {
		t.Errorf("ModifiedTime = %v, want %v", out.ModifiedTime, in.ModifiedTime)
	}
	if out.Epoch != in.Epoch || out.MaxMessageSize != in.MaxMessageSize {
		t.Errorf("out = %+v", out)
	}
	if got := out.WhitelistedContractImplementations["com.example.A"]; len(got) != 1 || got[0] != model.SHA256([]byte("a")) {
		t.Errorf("whitelist entry = %v", got)
	}
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	tests := map[string][]byte{
		"empty":    nil,
		"text":     []byte("hello world"),
		"trailing": append(mustMarshal(t, model.NotaryInfo{Validating: true}), 0x01),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			var out model.NotaryInfo
			if err := Unmarshal(data, &out); !errors.Is(err, model.ErrMalformedPayload) {
				t.Errorf("error = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestMarshal_WhitelistOrderIndependent(t *testing.T) {
	params := testParams()
	params.WhitelistedContractImplementations = model.ContractWhitelist{}
	for _, name := range []string{"net.corda.F", "net.corda.B", "net.corda.D", "net.corda.A", "net.corda.E", "net.corda.C"} {
		params.WhitelistedContractImplementations[name] = []model.SecureHash{model.SHA256([]byte(name))}
	}

	seen := map[model.SecureHash]bool{}
	for i := 0; i < 50; i++ {
		seen[model.SHA256(mustMarshal(t, params))] = true
	}
	if len(seen) != 1 {
		t.Errorf("%d distinct hashes over 50 calls, want 1", len(seen))
	}
}

func TestUnmarshal_NilWhitelist(t *testing.T) {
	params := testParams()
	params.WhitelistedContractImplementations = nil

	var out model.NetworkParameters
	if err := Unmarshal(mustMarshal(t, params), &out); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if out.WhitelistedContractImplementations != nil {
		t.Errorf("whitelist = %v, want nil", out.WhitelistedContractImplementations)
	}
}

func TestDecodeSignedNodeInfo_SignatureCountMismatch(t *testing.T) {
	info := model.NodeInfo{
		Addresses:       []string{"localhost:10000"},
		LegalIdentities: []model.Party{{Name: model.X500Name{Organisation: "A", Locality: "London", Country: "GB"}}},
		PlatformVersion: 4,
	}
	signed := model.SignedNodeInfo{Raw: mustMarshal(t, info)}

	_, _, err := DecodeSignedNodeInfo(mustMarshal(t, signed))
	if !errors.Is(err, model.ErrInvalidSignature) {
		t.Errorf("error = %v, want ErrInvalidSignature", err)
	}
}

func TestDecodeSignedNodeInfo_NoIdentities(t *testing.T) {
	signed := model.SignedNodeInfo{Raw: mustMarshal(t, model.NodeInfo{PlatformVersion: 4})}

	_, _, err := DecodeSignedNodeInfo(mustMarshal(t, signed))
	if !errors.Is(err, model.ErrMalformedPayload) {
		t.Errorf("error = %v, want ErrMalformedPayload", err)
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	return b
}
