// Package zonelog implements the three-level / three-facet logging
// contract the core consumes as an external collaborator (spec §6):
// Info/Warn/Error, scoped globally (LogM), per-arena (LogA), or
// per-player (LogP).
package zonelog

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps a *slog.Logger with the zone server's scoping facets.
type Logger struct {
	base *slog.Logger
}

// New returns a Logger writing text-formatted records to os.Stdout at
// the given level, matching the teacher's default handler setup.
func New(level slog.Level) *Logger {
	return &Logger{
		base: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})),
	}
}

// Wrap adapts an existing *slog.Logger (e.g. slog.Default()).
func Wrap(l *slog.Logger) *Logger {
	return &Logger{base: l}
}

// LogM logs a zone-global record.
func (l *Logger) LogM(level slog.Level, msg string, args ...any) {
	l.base.Log(context.Background(), level, msg, args...)
}

// LogA logs an arena-scoped record.
func (l *Logger) LogA(level slog.Level, arena string, msg string, args ...any) {
	l.base.With("arena", arena).Log(context.Background(), level, msg, args...)
}

// LogP logs a player-scoped record.
func (l *Logger) LogP(level slog.Level, player string, msg string, args ...any) {
	l.base.With("player", player).Log(context.Background(), level, msg, args...)
}

// Info/Warn/Error are convenience wrappers at LevelInfo/Warn/Error for LogM.
func (l *Logger) Info(msg string, args ...any)  { l.LogM(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.LogM(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.LogM(slog.LevelError, msg, args...) }

// InfoA/WarnA/ErrorA are arena-scoped convenience wrappers.
func (l *Logger) InfoA(arena, msg string, args ...any)  { l.LogA(slog.LevelInfo, arena, msg, args...) }
func (l *Logger) WarnA(arena, msg string, args ...any)  { l.LogA(slog.LevelWarn, arena, msg, args...) }
func (l *Logger) ErrorA(arena, msg string, args ...any) { l.LogA(slog.LevelError, arena, msg, args...) }

// InfoP/WarnP/ErrorP are player-scoped convenience wrappers.
func (l *Logger) InfoP(player, msg string, args ...any) { l.LogP(slog.LevelInfo, player, msg, args...) }
func (l *Logger) WarnP(player, msg string, args ...any) { l.LogP(slog.LevelWarn, player, msg, args...) }
func (l *Logger) ErrorP(player, msg string, args ...any) {
	l.LogP(slog.LevelError, player, msg, args...)
}
