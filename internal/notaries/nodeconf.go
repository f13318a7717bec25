package notaries

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/networkmap/internal/model"
)

// NodeConfig はnode.confのうちネットワークマップが参照する項目。
type NodeConfig struct {
	MyLegalName string        `yaml:"myLegalName"`
	P2PAddress  string        `yaml:"p2pAddress"`
	Notary      *NotaryConfig `yaml:"notary"`
}

// NotaryConfig はnode.confのnotaryセクション。
type NotaryConfig struct {
	Validating bool `yaml:"validating"`
}

// ParseNodeConfig はYAML形式のnode.confを解析する。
func ParseNodeConfig(data []byte) (*NodeConfig, error) {
	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse node.conf: %w", err)
	}
	return &cfg, nil
}

// LegalName はmyLegalNameを解析して返す。
func (c *NodeConfig) LegalName() (model.X500Name, error) {
	if c.MyLegalName == "" {
		return model.X500Name{}, fmt.Errorf("myLegalName is missing: %w", model.ErrInvalidName)
	}
	return model.ParseX500Name(c.MyLegalName)
}
