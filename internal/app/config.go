package app

import (
	"time"

	"github.com/yungbote/neurobridge-backend/internal/platform/envutil"
)

// Config holds every env-driven knob the kernel process needs. Adapted
// from the teacher's app.Config (same load-from-env-with-defaults shape),
// trimmed to kernel concerns: there is no JWT/session config here because
// this process has no auth surface.
type Config struct {
	Port string

	RedisAddr      string
	JobStreamName  string
	JobGroupName   string
	TaskStreamName string
	TaskGroupName  string

	JanitorInterval   time.Duration
	JanitorStaleAfter time.Duration

	ConsumerPrefix string
}

func LoadConfig() Config {
	return Config{
		Port: envutil.String("PORT", "8080"),

		RedisAddr:      envutil.String("REDIS_ADDR", "localhost:6379"),
		JobStreamName:  envutil.String("JOB_STREAM_NAME", "kernel:jobs"),
		JobGroupName:   envutil.String("JOB_GROUP_NAME", "kernel:jobs:workers"),
		TaskStreamName: envutil.String("TASK_STREAM_NAME", "kernel:tasks"),
		TaskGroupName:  envutil.String("TASK_GROUP_NAME", "kernel:tasks:workers"),

		JanitorInterval:   time.Duration(envutil.Int("JANITOR_INTERVAL_SECONDS", 30)) * time.Second,
		JanitorStaleAfter: time.Duration(envutil.Int("JANITOR_STALE_AFTER_SECONDS", 300)) * time.Second,

		ConsumerPrefix: envutil.String("CONSUMER_PREFIX", "kernel"),
	}
}
