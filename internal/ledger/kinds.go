package ledger

// Kind is a closed enum of record kinds the ledger accepts.
type Kind string

const (
	KindMessage         Kind = "message"
	KindCommitmentOpen  Kind = "commitment_open"
	KindCommitmentClose Kind = "commitment_close"
	KindReflection      Kind = "reflection"
	KindSummary         Kind = "summary"
	KindLongrangeMemory Kind = "longrange_memory"

	KindConceptDefine     Kind = "concept_define"
	KindConceptAlias      Kind = "concept_alias"
	KindConceptBindEvent  Kind = "concept_bind_event"
	KindConceptBindAsync  Kind = "concept_bind_async"
	KindConceptBindThread Kind = "concept_bind_thread"
	KindConceptRelate     Kind = "concept_relate"
	KindConceptSnapshot   Kind = "concept_state_snapshot"
	KindIdentityAdoption  Kind = "identity_adoption"

	KindConfig             Kind = "config"
	KindCheckpointManifest Kind = "checkpoint_manifest"
	KindEmbeddingAdd       Kind = "embedding_add"
	KindRetrievalSelection Kind = "retrieval_selection"
	KindViolation          Kind = "violation"
)

// allowedKinds is the write allow-list. Unknown kinds are rejected outright.
var allowedKinds = map[Kind]bool{
	KindMessage:            true,
	KindCommitmentOpen:     true,
	KindCommitmentClose:    true,
	KindReflection:         true,
	KindSummary:            true,
	KindLongrangeMemory:    true,
	KindConceptDefine:      true,
	KindConceptAlias:       true,
	KindConceptBindEvent:   true,
	KindConceptBindAsync:   true,
	KindConceptBindThread:  true,
	KindConceptRelate:      true,
	KindConceptSnapshot:    true,
	KindIdentityAdoption:   true,
	KindConfig:             true,
	KindCheckpointManifest: true,
	KindEmbeddingAdd:       true,
	KindRetrievalSelection: true,
	KindViolation:          true,
}

// sensitiveKinds are gated against the most recent policy record before write.
var sensitiveKinds = map[Kind]bool{
	KindConfig:             true,
	KindCheckpointManifest: true,
	KindEmbeddingAdd:       true,
	KindRetrievalSelection: true,
}

// structuredKinds require content to be a JSON object; malformed content is
// rejected before any mutation.
var structuredKinds = map[Kind]bool{
	KindConceptDefine:      true,
	KindConceptAlias:       true,
	KindConceptBindEvent:   true,
	KindConceptBindAsync:   true,
	KindConceptBindThread:  true,
	KindConceptRelate:      true,
	KindConceptSnapshot:    true,
	KindConfig:             true,
	KindCheckpointManifest: true,
	KindEmbeddingAdd:       true,
	KindRetrievalSelection: true,
}

// conceptIDFields maps each concept event kind to the meta field that must
// carry the SHA-256 of its canonical-JSON content. Checked on the write path;
// a missing or mismatched declared hash is a schema violation.
var conceptIDFields = map[Kind]string{
	KindConceptDefine:     "concept_id",
	KindConceptAlias:      "alias_id",
	KindConceptBindEvent:  "binding_id",
	KindConceptBindAsync:  "binding_id",
	KindConceptBindThread: "binding_id",
	KindConceptRelate:     "relation_id",
	KindConceptSnapshot:   "snapshot_id",
}

// KnownKind reports whether k is on the write allow-list.
func KnownKind(k Kind) bool { return allowedKinds[k] }

// Sensitive reports whether writes of k are policy-gated.
func Sensitive(k Kind) bool { return sensitiveKinds[k] }

// Structured reports whether k requires a JSON object payload.
func Structured(k Kind) bool { return structuredKinds[k] }
