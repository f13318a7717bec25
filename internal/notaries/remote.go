package notaries

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/networkmap/internal/certificates"
	"github.com/hitoshi/networkmap/internal/model"
)

// validatingFragment はURLのフラグメントで検証型ノータリーを示す値。
const validatingFragment = "validating"

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// RemoteLoader はURLで指定されたnodeInfoファイルを取得してノータリーを読み込む。
// URLのフラグメントが#validatingの場合は検証型ノータリーとして扱う。
// 取得や検証に失敗したURLは警告を出してスキップする。
type RemoteLoader struct {
	urls        []string
	guard       SSRFValidator
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewRemoteLoader はRemoteLoaderを生成する。
func NewRemoteLoader(urls []string, guard SSRFValidator, logger *slog.Logger, timeout time.Duration, maxBodySize int64) *RemoteLoader {
	return &RemoteLoader{
		urls:        urls,
		guard:       guard,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

func (l *RemoteLoader) Load(ctx context.Context) ([]model.NotaryInfo, error) {
	if len(l.urls) == 0 {
		return nil, nil
	}

	client := l.guard.NewSafeClient(l.timeout, l.maxBodySize)
	var notaries []model.NotaryInfo
	for _, rawURL := range l.urls {
		notary, err := l.fetch(ctx, client, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.Warn("リモートのノータリー情報を取得できませんでした",
				slog.String("url", rawURL),
				slog.String("error", err.Error()),
			)
			continue
		}
		notaries = append(notaries, notary)
	}
	return notaries, nil
}

func (l *RemoteLoader) fetch(ctx context.Context, client *http.Client, rawURL string) (model.NotaryInfo, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.NotaryInfo{}, fmt.Errorf("invalid URL: %w", err)
	}
	validating := u.Fragment == validatingFragment
	u.Fragment = ""
	target := u.String()

	if err := l.guard.ValidateURL(target); err != nil {
		return model.NotaryInfo{}, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return model.NotaryInfo{}, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return model.NotaryInfo{}, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.NotaryInfo{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NotaryInfo{}, fmt.Errorf("レスポンス読み込みに失敗: %w", err)
	}

	_, info, err := certificates.DecodeVerifiedNodeInfo(body)
	if err != nil {
		return model.NotaryInfo{}, err
	}
	return notaryFromNodeInfo(info, validating)
}
