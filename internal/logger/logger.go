package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Init installs a colored slog handler as the default logger and returns it.
// Source file paths are printed relative to the module root.
func Init(w io.Writer, level slog.Level) *slog.Logger {
	root := projectRoot()

	replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key != slog.SourceKey {
			return a
		}

		source, ok := a.Value.Any().(*slog.Source)
		if !ok {
			return a
		}

		if root != "" && strings.HasPrefix(source.File, root+string(os.PathSeparator)) {
			source.File = source.File[len(root)+1:]
		}

		return slog.Any(a.Key, source)
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:       level,
		AddSource:   level <= slog.LevelDebug,
		NoColor:     !isTerminal(w),
		TimeFormat:  time.RFC3339,
		ReplaceAttr: replaceAttr,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// projectRoot is the module root, two directories above internal/logger.
func projectRoot() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}

	return filepath.Dir(filepath.Dir(filepath.Dir(filename)))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	info, err := f.Stat()
	if err != nil {
		return false
	}

	return info.Mode()&os.ModeCharDevice != 0
}
