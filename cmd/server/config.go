package main

import "time"

type Config struct {
	Host          string `env:"HOST,default=localhost"`
	Port          int    `env:"PORT,default=8080"`
	LogLevel      string `env:"LOG_LEVEL,required=true"`
	JwtSecret     string `env:"JWT_SECRET,required=true"`
	BadgerPath    string `env:"BADGER_FILEPATH,required=true"`
	SearchPath    string `env:"SEARCH_INDEX_FILEPATH,required=true"`
	LimitMessages *int   `env:"LIMIT_MESSAGES"`

	SendBufferSize  int     `env:"SEND_BUFFER_SIZE,default=128"`
	EventsPerSecond float64 `env:"EVENTS_PER_SECOND,default=20"`
	EventBurst      int     `env:"EVENT_BURST,default=40"`

	TypingTimeout   time.Duration `env:"TYPING_TIMEOUT,default=5s"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	SweepInterval   time.Duration `env:"BACKLOG_SWEEP_INTERVAL,default=1h"`
	StatsInterval   time.Duration `env:"STATS_INTERVAL,default=30s"`

	BacklogCap int           `env:"BACKLOG_CAP,default=50"`
	BacklogTTL time.Duration `env:"BACKLOG_TTL,default=24h"`

	ModerationWords string `env:"MODERATION_WORDS"`
	// Rune code point; 42 is '*'.
	ModerationCharReplacement rune `env:"MODERATION_CHARACTER_REPLACEMENT,default=42"`
}
