package cellmodel

// TableRow is an ordered sequence of Cells, one per column of the
// owning TableSchema, in schema order. A TableRow carries no implicit
// identity; callers that need one use the schema's key columns.
type TableRow []Cell
