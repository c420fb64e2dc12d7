// Package cellmodel defines the tagged-value row model shared by the
// wire decoders, the source port, and every sink: Cell, TableRow, and
// the schema types that describe how a TableRow's columns line up with
// a Postgres relation.
package cellmodel

// TableID is the Postgres relation OID, used as the stable key for a
// table across schema snapshot, COPY, and CDC.
type TableID uint32

// ColumnSchema describes one column of a table as seen by Postgres.
type ColumnSchema struct {
	Name     string
	OID      uint32
	Nullable bool
	// PKPosition is the 1-based position of this column within the
	// table's primary/replica-identity key, or 0 if it is not part of
	// the key.
	PKPosition int
}

// TableSchema describes a replicated table: its identity and its
// column layout in wire/COPY order.
type TableSchema struct {
	ID        TableID
	Namespace string
	Relation  string
	Columns   []ColumnSchema
}

// QualifiedName returns "namespace.relation", or just the relation
// name when the namespace is empty or "public".
func (t TableSchema) QualifiedName() string {
	if t.Namespace == "" || t.Namespace == "public" {
		return t.Relation
	}
	return t.Namespace + "." + t.Relation
}

// ColumnByName returns the column schema with the given name, if any.
func (t TableSchema) ColumnByName(name string) (ColumnSchema, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSchema{}, false
}
