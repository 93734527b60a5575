package types

// Version is the sluice release version.
const Version = "0.4.0"

// Parser version identifiers captured in document lineage.
// A lineage mismatch against these constants signals that a document was
// produced by an older parser and may be reparsed.
const (
	PartitionerVersion = "partition-v2"
	ChunkerVersion     = "chunk-title-v1"
	ClassifierVersion  = "rule-v1"
)
