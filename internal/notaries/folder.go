package notaries

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hitoshi/networkmap/internal/model"
	"github.com/hitoshi/networkmap/internal/serialization"
)

// FolderLoader はディレクトリ直下の各ファイルをシリアライズ済みNotaryInfoとして読み込む。
// デコードできないファイルはスキップする。
type FolderLoader struct {
	dir    string
	logger *slog.Logger
}

// NewFolderLoader はFolderLoaderを生成する。
func NewFolderLoader(dir string, logger *slog.Logger) *FolderLoader {
	return &FolderLoader{dir: dir, logger: logger}
}

func (l *FolderLoader) Load(ctx context.Context) ([]model.NotaryInfo, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", l.dir, err)
	}

	var notaries []model.NotaryInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(l.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		var notary model.NotaryInfo
		if err := serialization.Unmarshal(data, &notary); err != nil {
			l.logger.Debug("NotaryInfoではないファイルをスキップします", slog.String("path", path))
			continue
		}
		notaries = append(notaries, notary)
	}
	return notaries, nil
}
