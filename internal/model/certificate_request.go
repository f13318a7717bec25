package model

import "time"

// CertificateRequestStatus はドアマンへの証明書署名要求の状態。
type CertificateRequestStatus string

const (
	// CertificateRequestPending は署名待ちの状態。
	CertificateRequestPending CertificateRequestStatus = "pending"
	// CertificateRequestSigned は署名済みの状態。
	CertificateRequestSigned CertificateRequestStatus = "signed"
	// CertificateRequestRejected は拒否された状態。
	CertificateRequestRejected CertificateRequestStatus = "rejected"
)

// CertificateRequest はノードから受け付けたPKCS#10証明書署名要求。
// CertificatesはノードCA、ドアマンCA、ルートCAの順のDER証明書チェーン。
type CertificateRequest struct {
	ID           string
	Subject      string
	CSR          []byte
	Status       CertificateRequestStatus
	Certificates [][]byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
