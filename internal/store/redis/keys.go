package redis

const (
	// KeyDatabaseURI caches the last applied sqlalchemy URL.
	KeyDatabaseURI = "db_uri"
	// KeyBrokerURI caches the last applied celery broker URL.
	KeyBrokerURI = "amqp_uri"
	// KeyFlags holds the dispatcher's availability flags.
	KeyFlags = "flags"
	// KeyStatus holds the last reported workload status.
	KeyStatus = "status"
)
