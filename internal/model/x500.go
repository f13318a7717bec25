package model

import (
	"crypto/x509/pkix"
	"fmt"
	"strings"
)

// X500Name はネットワーク参加者の識別名を表す。
// O、L、Cは必須、CN、OU、STは任意。
type X500Name struct {
	CommonName       string `msgpack:"cn,omitempty"`
	OrganisationUnit string `msgpack:"ou,omitempty"`
	Organisation     string `msgpack:"o"`
	Locality         string `msgpack:"l"`
	State            string `msgpack:"st,omitempty"`
	Country          string `msgpack:"c"`
}

// ParseX500Name は "O=Org, L=London, C=GB" 形式の文字列をパースする。
func ParseX500Name(s string) (X500Name, error) {
	var n X500Name
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return X500Name{}, fmt.Errorf("%w: malformed attribute %q", ErrInvalidName, part)
		}
		value = strings.TrimSpace(value)
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "CN":
			n.CommonName = value
		case "OU":
			n.OrganisationUnit = value
		case "O":
			n.Organisation = value
		case "L":
			n.Locality = value
		case "ST":
			n.State = value
		case "C":
			n.Country = value
		default:
			return X500Name{}, fmt.Errorf("%w: unsupported attribute %q", ErrInvalidName, key)
		}
	}
	if err := n.Validate(); err != nil {
		return X500Name{}, err
	}
	return n, nil
}

// Validate は必須属性とカントリーコードを検証する。
func (n X500Name) Validate() error {
	if n.Organisation == "" {
		return fmt.Errorf("%w: organisation is required", ErrInvalidName)
	}
	if n.Locality == "" {
		return fmt.Errorf("%w: locality is required", ErrInvalidName)
	}
	if len(n.Country) != 2 || strings.ToUpper(n.Country) != n.Country {
		return fmt.Errorf("%w: country must be an ISO 3166 alpha-2 code", ErrInvalidName)
	}
	return nil
}

// String はCN, OU, O, L, ST, Cの順で正規化した文字列を返す。
func (n X500Name) String() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("CN", n.CommonName)
	add("OU", n.OrganisationUnit)
	add("O", n.Organisation)
	add("L", n.Locality)
	add("ST", n.State)
	add("C", n.Country)
	return strings.Join(parts, ", ")
}

// WithoutCommonName はCNを除いた名前を返す。
// ノードCAの名前制約に使用する。
func (n X500Name) WithoutCommonName() X500Name {
	n.CommonName = ""
	return n
}

// PKIXName は証明書のSubjectとして使用するpkix.Nameに変換する。
func (n X500Name) PKIXName() pkix.Name {
	name := pkix.Name{
		CommonName:   n.CommonName,
		Organization: []string{n.Organisation},
		Locality:     []string{n.Locality},
		Country:      []string{n.Country},
	}
	if n.OrganisationUnit != "" {
		name.OrganizationalUnit = []string{n.OrganisationUnit}
	}
	if n.State != "" {
		name.Province = []string{n.State}
	}
	return name
}

// X500NameFromPKIX はpkix.NameからX500Nameを生成する。
func X500NameFromPKIX(p pkix.Name) (X500Name, error) {
	first := func(v []string) string {
		if len(v) == 0 {
			return ""
		}
		return v[0]
	}
	n := X500Name{
		CommonName:       p.CommonName,
		OrganisationUnit: first(p.OrganizationalUnit),
		Organisation:     first(p.Organization),
		Locality:         first(p.Locality),
		State:            first(p.Province),
		Country:          first(p.Country),
	}
	if err := n.Validate(); err != nil {
		return X500Name{}, err
	}
	return n, nil
}
