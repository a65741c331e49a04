package audit

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"

	MirrorNone   = "none"
	MirrorStdout = "stdout"
	MirrorKafka  = "kafka"
)

type Config struct {
	// Store selects the backend holding the audit log.
	Store string `yaml:"store" envconfig:"AUDIT_STORE" validate:"oneof=memory postgres mongo"`

	// Mirror copies every appended entry to a secondary sink, best effort.
	Mirror string `yaml:"mirror" envconfig:"AUDIT_MIRROR" validate:"oneof=none stdout kafka"`

	// BufferSize is the size of the mirror's async channel.
	BufferSize int `yaml:"buffer_size" envconfig:"AUDIT_BUFFER_SIZE" validate:"gte=1"`

	// BlockOnFull makes the stdout mirror wait for buffer space instead of dropping.
	// Leave it off unless losing a mirror line is worse than a slow request.
	BlockOnFull bool `yaml:"block_on_full" envconfig:"AUDIT_BLOCK_ON_FULL"`

	KafkaTopic string `yaml:"kafka_topic" envconfig:"AUDIT_KAFKA_TOPIC"`

	// MaxBodySize caps the request body captured by the HTTP audit middleware.
	MaxBodySize int64 `yaml:"max_body_size" envconfig:"AUDIT_MAX_BODY_SIZE" validate:"gte=0"`

	// AdminPathPrefix marks the routes whose mutations are recorded by the middleware.
	AdminPathPrefix string `yaml:"admin_path_prefix" envconfig:"AUDIT_ADMIN_PATH_PREFIX"`

	ExcludePaths []string `yaml:"exclude_paths" envconfig:"AUDIT_EXCLUDE_PATHS"`
}

func (c *Config) SetDefaults() {
	c.Store = BackendMemory
	c.Mirror = MirrorNone
	c.BufferSize = 1024
	c.BlockOnFull = false
	c.KafkaTopic = "system.audit.events"
	c.MaxBodySize = 32 << 10
	c.AdminPathPrefix = "/api/v1/admin"
	c.ExcludePaths = []string{"/health", "/metrics", "/live", "/ready"}
}
