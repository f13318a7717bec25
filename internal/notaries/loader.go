// Package notaries はネットワークパラメータに含めるノータリーの一覧を読み込む。
//
// ノータリーはノードのディレクトリ構成（node.conf と nodeInfo-* ファイル）、
// シリアライズ済みNotaryInfoのディレクトリ、リモートのnodeInfoファイルのいずれかから取得する。
package notaries

import (
	"context"
	"fmt"

	"github.com/hitoshi/networkmap/internal/model"
)

// Loader はノータリー一覧の読み込みを抽象化する。
type Loader interface {
	Load(ctx context.Context) ([]model.NotaryInfo, error)
}

// LoaderFunc は関数をLoaderとして扱うアダプタ。
type LoaderFunc func(ctx context.Context) ([]model.NotaryInfo, error)

// Load はf(ctx)を呼び出す。
func (f LoaderFunc) Load(ctx context.Context) ([]model.NotaryInfo, error) {
	return f(ctx)
}

// MultiLoader は複数のLoaderの結果を連結する。
// 同じ名前のノータリーは最初に読み込まれたものを採用する。
type MultiLoader []Loader

// Load はすべてのLoaderを順に実行する。いずれかが失敗した場合はエラーを返す。
func (m MultiLoader) Load(ctx context.Context) ([]model.NotaryInfo, error) {
	var out []model.NotaryInfo
	seen := make(map[string]struct{})
	for _, l := range m {
		notaries, err := l.Load(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range notaries {
			name := n.Identity.Name.String()
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, n)
		}
	}
	return out, nil
}

// notaryFromNodeInfo は検証済みNodeInfoからNotaryInfoを生成する。
func notaryFromNodeInfo(info model.NodeInfo, validating bool) (model.NotaryInfo, error) {
	identity, err := info.NotaryIdentity()
	if err != nil {
		return model.NotaryInfo{}, fmt.Errorf("notary identity: %w", err)
	}
	return model.NotaryInfo{Identity: identity, Validating: validating}, nil
}
