package sllog

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"securelink/internal/models/slconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger configure le logger global Zerolog: console en développement,
// fichier avec rotation et syslog selon la configuration
func InitLogger(cfg slconfig.LoggerConfig, production bool) {
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return path.Base(file) + ":" + strconv.Itoa(line)
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	log.Logger = zerolog.New(buildWriters(cfg, production)).
		With().
		Timestamp().
		Caller().
		Logger()

	environnment := "developpement"
	if production {
		environnment = "production"
	}
	log.Info().
		Str("environment", environnment).
		Str("level", cfg.Level).
		Bool("log_to_file", cfg.File.Enable).
		Bool("log_to_syslog", cfg.Syslog.Enable).
		Msg("Logger initialized")
}

// buildWriters assemble les destinations actives en un seul writer
func buildWriters(cfg slconfig.LoggerConfig, production bool) io.Writer {
	var writers []io.Writer

	if !production {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	if cfg.File.Enable {
		w, err := newFileWriter(cfg.File)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to setup file writer")
		}
		writers = append(writers, w)
	}

	if cfg.Syslog.Enable {
		w, err := newSyslogWriter(cfg.Syslog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to setup syslog writer")
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		return os.Stdout
	}
	return io.MultiWriter(writers...)
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// newFileWriter ouvre le fichier de log avec rotation lumberjack
func newFileWriter(cfg slconfig.LoggerFileConfig) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, err
	}

	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}, nil
}

// newSyslogWriter ouvre une connexion syslog locale ou distante
func newSyslogWriter(cfg slconfig.LoggerSyslogConfig) (io.Writer, error) {
	tag := cfg.Tag
	if tag == "" {
		tag = "securelink"
	}
	priority := cfg.Priority
	if priority == 0 {
		priority = syslog.LOG_INFO | syslog.LOG_LOCAL0
	}

	var writer *syslog.Writer
	var err error
	if cfg.Protocol == "" || cfg.Address == "" {
		writer, err = syslog.New(priority, tag)
	} else {
		writer, err = syslog.Dial(cfg.Protocol, cfg.Address, priority, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog: %w", err)
	}

	return &syslogLevelWriter{writer: writer}, nil
}

// syslogLevelWriter route chaque ligne JSON zerolog vers la sévérité
// syslog correspondante
type syslogLevelWriter struct {
	writer *syslog.Writer
}

func (w *syslogLevelWriter) Write(p []byte) (n int, err error) {
	msg := string(p)

	switch levelFromJSON(msg) {
	case "debug":
		return len(p), w.writer.Debug(msg)
	case "warn", "warning":
		return len(p), w.writer.Warning(msg)
	case "error":
		return len(p), w.writer.Err(msg)
	case "fatal", "panic":
		return len(p), w.writer.Crit(msg)
	default:
		return len(p), w.writer.Info(msg)
	}
}

// levelFromJSON extrait le champ "level" d'une ligne zerolog sans la
// désérialiser entièrement
func levelFromJSON(msg string) string {
	const marker = `"level":"`
	start := strings.Index(msg, marker)
	if start == -1 {
		return ""
	}
	start += len(marker)

	end := strings.Index(msg[start:], `"`)
	if end == -1 {
		return ""
	}
	return msg[start : start+end]
}
