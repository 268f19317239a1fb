package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

var Logger zerolog.Logger

func Init() {
	InitWithWriter(os.Stdout)
}

func InitWithWriter(w io.Writer) {
	level, err := zerolog.ParseLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if envOr("LOG_FORMAT", "console") == "json" {
		base = zerolog.New(w)
	} else {
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		if strings.TrimSpace(os.Getenv("LOG_COLOR")) == "0" {
			cw.NoColor = true
		}
		base = zerolog.New(cw)
	}

	Logger = base.With().Timestamp().Logger().Level(level)
	zlog.Logger = Logger
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
