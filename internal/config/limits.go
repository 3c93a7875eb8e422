package config

const (
	// DefaultSyncedDocDepth is the maximum depth a synced-doc embed is
	// inlined during markdown export before degrading to a plain link.
	// Bounds the work done on deep (or adversarial) embed graphs.
	DefaultSyncedDocDepth = 8

	// DefaultMaxImportBytes caps the size of a file accepted for
	// import. Documents past this size indicate a misdirected binary,
	// not prose.
	DefaultMaxImportBytes = 16 << 20

	// MaxTitleLength is the maximum length for document titles.
	// Kept short for reasonable UX (titles should be short and
	// descriptive).
	MaxTitleLength = 255

	// MaxBlobIDLength is the maximum length for asset blob ids.
	MaxBlobIDLength = 255
)
