package domain

const (
	CollectionConversations = "conversations"
	CollectionThreads       = "threads"
)

// Collection describes a dependent record collection that references users
// through a secondary index on an association attribute.
type Collection struct {
	Name                 string
	Table                string
	Index                string
	AssociationAttribute string
	PartitionKey         string
	SortKey              string
}

// DependentRecord is the composite key of a single conversation or thread
// record, tagged with the collection it lives in.
type DependentRecord struct {
	Collection Collection
	Partition  string
	Sort       string
}
