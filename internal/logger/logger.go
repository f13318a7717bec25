package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// サブシステム名。
const (
	SubsystemWeb        = "web" // HTTPルーティング層
	SubsystemNetworkMap = "networkmap"
	SubsystemDoorman    = "doorman"
	SubsystemNotaries   = "notaries"
)

// Levels はサブシステム名からログレベルへの対応表。
// キー""はルートロガーのレベルを表す。
type Levels map[string]slog.Level

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w)
	slog.SetDefault(logger)
}

// Registry はサブシステムごとのレベル設定を持つロガーの生成元。
// 全ロガーは同一のwriterにJSONで出力する。
type Registry struct {
	mu      sync.Mutex
	w       io.Writer
	levels  Levels
	loggers map[string]*slog.Logger
}

// NewRegistry はRegistryを生成する。
// levelsに含まれないサブシステムはルートレベルで出力する。
func NewRegistry(w io.Writer, levels Levels) *Registry {
	if w == nil {
		w = os.Stdout
	}
	copied := make(Levels, len(levels)+1)
	copied[""] = slog.LevelInfo
	for k, v := range levels {
		copied[k] = v
	}
	return &Registry{
		w:       &lockedWriter{w: w},
		levels:  copied,
		loggers: make(map[string]*slog.Logger),
	}
}

// Level はサブシステムの有効なログレベルを返す。
func (r *Registry) Level(name string) slog.Level {
	if l, ok := r.levels[name]; ok {
		return l
	}
	return r.levels[""]
}

// Root はルートロガーを返す。
func (r *Registry) Root() *slog.Logger {
	return r.Logger("")
}

// Logger はサブシステム用のロガーを返す。
// ルート以外のロガーはsubsystem属性を持つ。
func (r *Registry) Logger(name string) *slog.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.loggers[name]; ok {
		return l
	}

	var handler slog.Handler = slog.NewJSONHandler(r.w, &slog.HandlerOptions{
		Level: r.Level(name),
	})
	if name != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("subsystem", name)})
	}
	l := slog.New(handler)
	r.loggers[name] = l
	return l
}

// SetDefault はルートロガーをグローバルロガーとして設定する。
func (r *Registry) SetDefault() {
	slog.SetDefault(r.Root())
}

// lockedWriter は複数ハンドラからの書き込みを直列化する。
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
