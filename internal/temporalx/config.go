package temporalx

import (
	"strings"
	"time"
)

const (
	DefaultNamespace = "moldline"
	DefaultTaskQueue = "moldline-ingest"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	// AutoRegisterNamespace creates the namespace when it is missing. Meant
	// for local and self-hosted clusters; hosted namespaces are provisioned
	// out of band.
	AutoRegisterNamespace  bool
	NamespaceRetentionDays int

	DialTimeout    time.Duration
	DialMaxWait    time.Duration
	DialBackoff    time.Duration
	DialBackoffMax time.Duration

	WorkerConcurrency int
}

// Enabled reports whether a Temporal address was configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Address) != ""
}

// Normalize fills defaults for unset fields and clamps the retention.
func (c Config) Normalize() Config {
	c.Address = strings.TrimSpace(c.Address)
	c.Namespace = stringsOr(c.Namespace, DefaultNamespace)
	c.TaskQueue = stringsOr(c.TaskQueue, DefaultTaskQueue)
	if c.NamespaceRetentionDays < 1 {
		c.NamespaceRetentionDays = 7
	}
	if c.NamespaceRetentionDays > 365 {
		c.NamespaceRetentionDays = 365
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.DialMaxWait < 0 {
		c.DialMaxWait = 0
	}
	if c.DialBackoff <= 0 {
		c.DialBackoff = 250 * time.Millisecond
	}
	if c.DialBackoffMax <= 0 {
		c.DialBackoffMax = 5 * time.Second
	}
	if c.WorkerConcurrency < 1 {
		c.WorkerConcurrency = 4
	}
	return c
}

func (c Config) tlsEnabled() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}

func stringsOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}
