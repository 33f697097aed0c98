package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr      string        // ex: "127.0.0.1:8099"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Paths
	AppDir         string // installed application tree (ex: /opt/reviewqueue)
	IniPath        string // rendered application config (ex: /etc/reviewqueue.ini)
	CharmDir       string // directory holding files/{systemd,upstart,lp-creds}
	SettingsSchema string // yaml option schema with defaults (config.yaml layout)
	SettingsFile   string // yaml map of operator-provided values (optional)
	LockFile       string // cross-process event lock
	SystemdDir     string // unit destination when systemd is the init system
	UpstartDir     string // job destination for legacy upstart hosts

	AppUser  string
	AppGroup string

	WebService  string // ex: "reviewqueue"
	TaskService string // ex: "reviewqueue-tasks"

	WatchInterval  time.Duration // settings file poll interval in serve mode
	CommandTimeout time.Duration // upper bound for install / initialize_db commands

	// Redis
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts
	RedisKeyPrefix        string        // namespace for every key written by the agent

	AllowedCIDRS []string // optional, restrict access to the event and reload endpoints
	TrustProxy   bool     // true => trust X-Forwarded-For headers
}

func Load() *Config {
	charmDir := getenv("RQ_CHARM_DIR", getenv("CHARM_DIR", "."))
	appDir := getenv("RQ_APP_DIR", "/opt/reviewqueue")

	cfg := &Config{
		ListenAddr:      getenv("RQ_LISTEN_ADDR", "127.0.0.1:8099"),
		ShutdownTimeout: mustDuration("RQ_SHUTDOWN_TIMEOUT", 5*time.Second),

		LogLevel:  getenv("RQ_LOG_LEVEL", "info"),
		PrettyLog: mustBool("RQ_PRETTY_LOG", false),

		AppDir:         appDir,
		IniPath:        getenv("RQ_INI_PATH", "/etc/reviewqueue.ini"),
		CharmDir:       charmDir,
		SettingsSchema: getenv("RQ_SETTINGS_SCHEMA", filepath.Join(charmDir, "config.yaml")),
		SettingsFile:   getenv("RQ_SETTINGS_FILE", ""),
		LockFile:       getenv("RQ_LOCK_FILE", "/run/lock/reviewqueue-agent.lock"),
		SystemdDir:     getenv("RQ_SYSTEMD_DIR", "/etc/systemd/system"),
		UpstartDir:     getenv("RQ_UPSTART_DIR", "/etc/init"),

		AppUser:  getenv("RQ_APP_USER", "ubuntu"),
		AppGroup: getenv("RQ_APP_GROUP", "ubuntu"),

		WebService:  getenv("RQ_WEB_SERVICE", "reviewqueue"),
		TaskService: getenv("RQ_TASK_SERVICE", "reviewqueue-tasks"),

		WatchInterval:  mustDuration("RQ_WATCH_INTERVAL", 30*time.Second),
		CommandTimeout: mustDuration("RQ_COMMAND_TIMEOUT", 30*time.Minute),

		RedisAddr:             requireEnv("RQ_REDIS_ADDR"),
		RedisUser:             getenv("RQ_REDIS_USERNAME", ""),
		RedisPasswordRequired: mustBool("RQ_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("RQ_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("RQ_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 4),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),
		RedisKeyPrefix:        getenv("RQ_REDIS_KEY_PREFIX", "reviewqueue:"),

		AllowedCIDRS: parseAllowedIPs(getenv("RQ_ALLOWED_CIDRS", "127.0.0.1/32,::1/128")),
		TrustProxy:   mustBool("RQ_TRUST_PROXY", false),
	}

	if cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: RQ_REDIS_PASSWORD is required when RQ_REDIS_PASSWORD_REQUIRED=true")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
