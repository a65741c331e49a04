package messaging

import "time"

type Config struct {
	// Brokers empty disables Kafka: no relay, no ingestion.
	Brokers  []string `yaml:"brokers" envconfig:"KAFKA_BROKERS"`
	ClientID string   `yaml:"client_id" envconfig:"KAFKA_CLIENT_ID"`

	// OrderTopic receives relayed order lifecycle events.
	OrderTopic string `yaml:"order_topic" envconfig:"KAFKA_ORDER_TOPIC"`

	// AdminAuditTopic carries administrative actions recorded by other services.
	AdminAuditTopic string `yaml:"admin_audit_topic" envconfig:"KAFKA_ADMIN_AUDIT_TOPIC"`
	GroupID         string `yaml:"group_id" envconfig:"KAFKA_GROUP_ID"`

	MaxRetries     int           `yaml:"max_retries" envconfig:"KAFKA_MAX_RETRIES" validate:"gte=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff" envconfig:"KAFKA_INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"max_backoff" envconfig:"KAFKA_MAX_BACKOFF"`
}

func (c *Config) SetDefaults() {
	c.ClientID = "helix-activity"
	c.OrderTopic = "orders.status_changed"
	c.AdminAuditTopic = "admin.audit.actions"
	c.GroupID = "helix-activity-audit"
	c.MaxRetries = 5
	c.InitialBackoff = 100 * time.Millisecond
	c.MaxBackoff = 30 * time.Second
}

func (c Config) Enabled() bool { return len(c.Brokers) > 0 }
