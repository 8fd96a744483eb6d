// Package policy compiles table permission blocks into enforcement plans.
//
// A plan keeps one unbound predicate per level:
//
//	table   read/create/update/delete specifier   -> TableExpr
//	field   read or write specifier per field      -> FieldExpr
//	record  OR of the record conditions per action -> RecordExpr
//
// Binding a predicate to an actor folds everything the session already
// decides (role membership, anonymity) into constants; what remains refers
// to record fields and becomes the push-down WHERE clause. The same unbound
// predicates render as CREATE POLICY expressions reading the app.* session
// settings, see GenerateDDL.
//
// The table level always comes first: when it binds to false RowFilter
// returns false without consulting record rules, and a field rule can only
// narrow what the table allows.
package policy
