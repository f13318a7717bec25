package notaries

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hitoshi/networkmap/internal/certificates"
	"github.com/hitoshi/networkmap/internal/model"
)

const (
	nodeConfFileName   = "node.conf"
	nodeInfoFilePrefix = "nodeInfo-"
)

// FilesystemLoader はノードディレクトリを再帰的に走査し、
// notaryセクションを持つnode.confの隣にあるnodeInfoファイルからノータリーを読み込む。
type FilesystemLoader struct {
	dir    string
	logger *slog.Logger
}

// NewFilesystemLoader はFilesystemLoaderを生成する。
func NewFilesystemLoader(dir string, logger *slog.Logger) *FilesystemLoader {
	return &FilesystemLoader{dir: dir, logger: logger}
}

// Load はディレクトリ配下のノータリーを返す。ディレクトリが存在しない場合は空の一覧を返す。
// 解析できないnode.confは警告を出してスキップし、nodeInfoファイルの検証失敗はエラーとする。
func (l *FilesystemLoader) Load(ctx context.Context) ([]model.NotaryInfo, error) {
	if _, err := os.Stat(l.dir); errors.Is(err, fs.ErrNotExist) {
		l.logger.Info("ノードディレクトリが存在しません", slog.String("dir", l.dir))
		return nil, nil
	}

	l.logger.Info("ノードディレクトリのnode.confを走査します", slog.String("dir", l.dir))

	var confs []string
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == nodeConfFileName {
			confs = append(confs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", l.dir, err)
	}

	var notaries []model.NotaryInfo
	for _, path := range confs {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		cfg, err := ParseNodeConfig(data)
		if err != nil {
			l.logger.Warn("node.confを解析できませんでした", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if cfg.Notary == nil {
			continue
		}

		infoPath, err := firstNodeInfoFile(filepath.Dir(path))
		if err != nil {
			return nil, err
		}
		if infoPath == "" {
			l.logger.Warn("ノータリーのnodeInfoファイルが見つかりません", slog.String("path", path))
			continue
		}

		raw, err := os.ReadFile(infoPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", infoPath, err)
		}
		_, info, err := certificates.DecodeVerifiedNodeInfo(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid node info %s: %w", infoPath, err)
		}
		notary, err := notaryFromNodeInfo(info, cfg.Notary.Validating)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", infoPath, err)
		}

		l.logger.Debug("ノータリーを検出しました",
			slog.String("name", notary.Identity.Name.String()),
			slog.Any("addresses", info.Addresses),
			slog.Bool("validating", notary.Validating),
		)
		notaries = append(notaries, notary)
	}

	l.logger.Info("ノータリーの走査が完了しました",
		slog.String("dir", l.dir),
		slog.Int("config_count", len(confs)),
		slog.Int("notary_count", len(notaries)),
	)
	return notaries, nil
}

// firstNodeInfoFile はdir直下の名前順で最初のnodeInfo-*ファイルを返す。無い場合は""を返す。
func firstNodeInfoFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), nodeInfoFilePrefix) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}
