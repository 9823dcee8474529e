package sirix

// RevisioningPolicy selects how many historical leaves are fetched and how
// they are merged into a logically complete record page (spec.md §4.6,
// GLOSSARY "Revisioning policy").
type RevisioningPolicy uint8

const (
	// PolicyFull keeps only the latest leaf; no historical merge.
	PolicyFull RevisioningPolicy = iota
	// PolicyDifferential keeps the latest leaf (diff) plus one base leaf.
	PolicyDifferential
	// PolicyIncremental folds every retained leaf, oldest to newest.
	PolicyIncremental
	// PolicySlidingSnapshot is PolicyIncremental bounded to at most
	// RevisionsToRestore leaves.
	PolicySlidingSnapshot
)

func (p RevisioningPolicy) String() string {
	switch p {
	case PolicyFull:
		return "FULL"
	case PolicyDifferential:
		return "DIFFERENTIAL"
	case PolicyIncremental:
		return "INCREMENTAL"
	case PolicySlidingSnapshot:
		return "SLIDING_SNAPSHOT"
	default:
		return "UNKNOWN"
	}
}

// ResourceConfig carries the per-resource settings every component in this
// package needs: which subtrees are active, how deep their indirect tries
// are, how aggressively to restore historical revisions, and whether
// dewey ids are stored. It is the Go counterpart of
// ResourceConfiguration referenced throughout PageReadTrxImpl.java, reduced
// to the fields this storage core actually reads; CLI/config-file parsing
// proper lives outside this package's scope (spec.md §1).
//
// ResourceConfig round-trips through YAML via github.com/goccy/go-yaml so a
// resource directory can keep a sidecar config.yaml next to its data file.
type ResourceConfig struct {
	// PageSize is the nominal page size used to derive MaxRecordSize.
	// Defaults to DefaultPageSize when zero.
	PageSize int `yaml:"pageSize"`

	// FanoutExponents gives the per-level indirect-page fanout exponent
	// array for each active IndexType (spec.md §4.4, §4.7 "exps").
	// IndexDocument's entry is used for the RECORD subtree.
	FanoutExponents map[IndexType][]uint8 `yaml:"fanoutExponents"`

	// ActiveIndexes lists which non-RECORD subtrees this resource
	// maintains (PATH, CAS/VALUE, NAME, ...). RECORD is always active.
	ActiveIndexes map[IndexType]bool `yaml:"activeIndexes"`

	// RevisionsToRestore is the policy cap on how many historical
	// leaves collectSnapshotLeaves will fetch (spec.md §4.6).
	RevisionsToRestore int `yaml:"revisionsToRestore"`

	// RevisioningPolicy selects the combine algorithm.
	RevisioningPolicy RevisioningPolicy `yaml:"revisioningPolicy"`

	// StoreDeweyIDs enables the dewey-id-ordered serialization section
	// of KeyValuePage (spec.md §4.3 step 2), only meaningful when the
	// configured RecordSerializer also implements NodePersistenter.
	StoreDeweyIDs bool `yaml:"storeDeweyIDs"`
}

// DefaultResourceConfig returns a config with the typical fanout from
// spec.md §6 ("typical [1<<7, 1<<7, 1<<7, 1<<7]"), INCREMENTAL revisioning
// over at most 3 restored revisions, and dewey ids off.
func DefaultResourceConfig() *ResourceConfig {
	exps := make([]uint8, len(DefaultFanoutExponents))
	copy(exps, DefaultFanoutExponents)
	return &ResourceConfig{
		PageSize: DefaultPageSize,
		FanoutExponents: map[IndexType][]uint8{
			IndexDocument: exps,
		},
		ActiveIndexes:      map[IndexType]bool{},
		RevisionsToRestore: 3,
		RevisioningPolicy:  PolicyIncremental,
		StoreDeweyIDs:      false,
	}
}

// MaxRecordSize returns the inline/overflow threshold for this config,
// falling back to the package default when PageSize is unset.
func (c *ResourceConfig) MaxRecordSize() int {
	if c.PageSize <= 0 {
		return MaxRecordSize
	}
	if c.PageSize <= PageHeaderReserve {
		return c.PageSize
	}
	return c.PageSize - PageHeaderReserve
}

// IsActive reports whether subtree t is maintained by this resource.
// RECORD (IndexDocument) is always active.
func (c *ResourceConfig) IsActive(t IndexType) bool {
	if t == IndexDocument {
		return true
	}
	return c.ActiveIndexes[t]
}

// PageCountExponents returns the fanout exponent array for subtree t,
// falling back to DefaultFanoutExponents when unset.
func (c *ResourceConfig) PageCountExponents(t IndexType) []uint8 {
	if exps, ok := c.FanoutExponents[t]; ok {
		return exps
	}
	return DefaultFanoutExponents
}
