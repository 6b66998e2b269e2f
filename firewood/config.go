package firewood

// Config controls how Open builds a database. It is populated through
// functional options, the idiomatic Go analogue of a builder-style
// config struct.
type Config struct {
	truncate          bool
	maxRevisions      uint
	nodeCacheSize     uint
	freeListCacheSize uint
}

const (
	defaultMaxRevisions      = 128
	defaultNodeCacheSize     = 20480
	defaultFreeListCacheSize = 10000
)

// Option mutates a Config being built by NewConfig.
type Option func(*Config)

// NewConfig returns the default configuration with any options applied.
func NewConfig(opts ...Option) Config {
	c := Config{
		maxRevisions:      defaultMaxRevisions,
		nodeCacheSize:     defaultNodeCacheSize,
		freeListCacheSize: defaultFreeListCacheSize,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithTruncate starts the database from empty instead of opening an
// existing file.
func WithTruncate(truncate bool) Option {
	return func(c *Config) { c.truncate = truncate }
}

// WithMaxRevisions bounds the number of historical committed revisions
// kept in memory.
func WithMaxRevisions(n uint) Option {
	return func(c *Config) { c.maxRevisions = n }
}

// WithNodeCacheSize sets the node cache's LRU capacity in entries.
func WithNodeCacheSize(n uint) Option {
	return func(c *Config) { c.nodeCacheSize = n }
}

// WithFreeListCacheSize sets the free-list cache's LRU capacity in
// entries.
func WithFreeListCacheSize(n uint) Option {
	return func(c *Config) { c.freeListCacheSize = n }
}
