// Package condition implements the record-level condition language used in
// table permission blocks.
//
// A condition compares record fields, literals and the reserved {userId}
// token, combined with AND / OR:
//
//	{userId} = owner_id
//	draft = false OR {userId} = author_id
//	status != 'archived' AND (priority >= 3 OR {userId} = assignee_id)
//
// AND binds tighter than OR. Parsing produces a closed AST (Comparison, And,
// Or, Const) which is checked against the table's fields at schema load time
// and then used three ways:
//
//   - Eval decides a single record in process, after Bind has substituted
//     the actor's id.
//   - ToSQL compiles the same tree into a parameterized squirrel predicate so
//     filtering runs in the database, not in the request handler.
//   - SessionSQL renders an unbound tree for CREATE POLICY statements, where
//     {userId} reads current_setting('app.user_id').
//
// Comparisons follow SQL NULL semantics: a NULL operand never matches, with
// the exception of explicit "= null" / "!= null" tests. An anonymous actor
// binds {userId} as unset, so "{userId} = owner_id" is false for every row.
package condition
