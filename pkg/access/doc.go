// Package access is the decision engine applications call to enforce the
// schema's permission blocks.
//
// Evaluation runs in three stages. The table level decides whether the
// actor may perform an action at all; when it denies, nothing else is
// evaluated. The field level narrows which columns are visible or
// writable, and the record level narrows which rows. Field and record
// levels never widen the table level.
//
// Reads of rows the actor cannot see fail with ErrNotFound so callers
// cannot discover that they exist; list queries apply RowFilter and
// silently omit them. Denied writes fail with a *ForbiddenError.
package access
