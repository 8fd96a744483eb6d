package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Expr
	}{
		{
			name:  "owner check",
			input: "{userId} = owner_id",
			want:  Comparison{Left: UserID(), Op: OpEq, Right: Field("owner_id")},
		},
		{
			name:  "boolean literal",
			input: "draft = false",
			want:  Comparison{Left: Field("draft"), Op: OpEq, Right: Literal(false)},
		},
		{
			name:  "or of comparisons",
			input: "draft = false OR {userId} = author_id",
			want: Or{
				Comparison{Left: Field("draft"), Op: OpEq, Right: Literal(false)},
				Comparison{Left: UserID(), Op: OpEq, Right: Field("author_id")},
			},
		},
		{
			name:  "and binds tighter than or",
			input: "a = 1 OR b = 2 AND c = 3",
			want: Or{
				Comparison{Left: Field("a"), Op: OpEq, Right: Literal(int64(1))},
				And{
					Comparison{Left: Field("b"), Op: OpEq, Right: Literal(int64(2))},
					Comparison{Left: Field("c"), Op: OpEq, Right: Literal(int64(3))},
				},
			},
		},
		{
			name:  "parentheses and lowercase keywords",
			input: "(a = 1 or b = 2) and c <> 'x'",
			want: And{
				Or{
					Comparison{Left: Field("a"), Op: OpEq, Right: Literal(int64(1))},
					Comparison{Left: Field("b"), Op: OpEq, Right: Literal(int64(2))},
				},
				Comparison{Left: Field("c"), Op: OpNeq, Right: Literal("x")},
			},
		},
		{
			name:  "quoted string with escaped quote",
			input: "title = 'it''s'",
			want:  Comparison{Left: Field("title"), Op: OpEq, Right: Literal("it's")},
		},
		{
			name:  "utf-8 string literal",
			input: "title = 'café ☕'",
			want:  Comparison{Left: Field("title"), Op: OpEq, Right: Literal("café ☕")},
		},
		{
			name:  "non-breaking space separates tokens",
			input: "a\u00a0= 1",
			want:  Comparison{Left: Field("a"), Op: OpEq, Right: Literal(int64(1))},
		},
		{
			name:  "float and comparison operator",
			input: "score >= 2.5",
			want:  Comparison{Left: Field("score"), Op: OpGte, Right: Literal(2.5)},
		},
		{
			name:  "null test",
			input: "deleted_at = null",
			want:  Comparison{Left: Field("deleted_at"), Op: OpEq, Right: Null()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
	}{
		{"empty", "", "unexpected end of condition"},
		{"unknown placeholder", "{orgId} = org_id", "unknown placeholder {orgId}"},
		{"unterminated placeholder", "{userId = owner_id", "unterminated placeholder"},
		{"unterminated string", "title = 'abc", "unterminated string"},
		{"missing operator", "owner_id {userId}", "expected comparison operator"},
		{"missing right operand", "owner_id =", "unexpected end of condition"},
		{"dangling and", "a = 1 AND", "unexpected end of condition"},
		{"unbalanced parenthesis", "(a = 1", "unbalanced parenthesis"},
		{"trailing tokens", "a = 1 b", "unexpected \"b\""},
		{"bad character", "a = 1 ; b = 2", "unexpected character"},
		{"ordered null", "a < null", "null can only be compared"},
		{"non-ascii identifier", "naïve = 1", "non-ASCII character 'ï' outside a quoted string"},
		{"non-ascii leading identifier", "été = 1", "non-ASCII character 'é'"},
		{"invalid utf-8", "a = 1 \xff", "invalid UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.True(t, IsSyntaxError(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestFields(t *testing.T) {
	expr := MustParse("draft = false OR ({userId} = author_id AND author_id != editor_id)")
	assert.Equal(t, []string{"author_id", "draft", "editor_id"}, Fields(expr))
	assert.Empty(t, Fields(MustParse("{userId} = 'u1'")))
}

func TestBind(t *testing.T) {
	t.Run("substitutes user id", func(t *testing.T) {
		got := Bind(MustParse("{userId} = owner_id"), Binding{UserID: "u1"})
		assert.Equal(t, Comparison{Left: Param("u1"), Op: OpEq, Right: Field("owner_id")}, got)
	})

	t.Run("anonymous never matches a field", func(t *testing.T) {
		got := Bind(MustParse("{userId} = owner_id"), Binding{})
		assert.Equal(t, False, got)
	})

	t.Run("anonymous disjunct is dropped", func(t *testing.T) {
		got := Bind(MustParse("draft = false OR {userId} = author_id"), Binding{})
		assert.Equal(t, Comparison{Left: Field("draft"), Op: OpEq, Right: Literal(false)}, got)
	})

	t.Run("constant comparison folds", func(t *testing.T) {
		assert.Equal(t, True, Bind(MustParse("{userId} = 'u1'"), Binding{UserID: "u1"}))
		assert.Equal(t, False, Bind(MustParse("{userId} = 'u1'"), Binding{UserID: "u2"}))
	})

	t.Run("session operands", func(t *testing.T) {
		expr := And{
			Eq(Field("organization_id"), OrgID()),
			Eq(Role(), Literal("admin")),
		}
		assert.Equal(t, Eq(Field("organization_id"), Param("org-1")),
			Bind(expr, Binding{OrganizationID: "org-1", Role: "admin"}))
		assert.Equal(t, False, Bind(expr, Binding{Role: "admin"}))
	})

	t.Run("unset user id is not null", func(t *testing.T) {
		authenticated := Comparison{Left: UserID(), Op: OpNeq, Right: Null()}
		assert.Equal(t, True, Bind(authenticated, Binding{UserID: "u1"}))
		assert.Equal(t, False, Bind(authenticated, Binding{}))
	})
}

func TestSimplify(t *testing.T) {
	c := Eq(Field("a"), Literal(int64(1)))

	assert.Equal(t, True, Simplify(And{}))
	assert.Equal(t, False, Simplify(Or{}))
	assert.Equal(t, c, Simplify(And{True, c}))
	assert.Equal(t, False, Simplify(And{c, False}))
	assert.Equal(t, True, Simplify(Or{c, True}))
	assert.Equal(t, c, Simplify(Or{False, c}))
	assert.Equal(t, And{c, c, c}, Simplify(And{c, And{c, c}}))
}

func TestEval(t *testing.T) {
	record := map[string]any{
		"owner_id": "u1",
		"draft":    false,
		"priority": int64(3),
		"score":    2.5,
		"title":    "hello",
		"deleted":  nil,
	}

	tests := []struct {
		condition string
		userID    string
		want      bool
	}{
		{"{userId} = owner_id", "u1", true},
		{"{userId} = owner_id", "u2", false},
		{"{userId} = owner_id", "", false},
		{"draft = false", "", true},
		{"draft = true", "", false},
		{"priority > 2", "", true},
		{"priority <= 2", "", false},
		{"priority = 3.0", "", true},
		{"score < 3", "", true},
		{"title = 'hello'", "", true},
		{"title != 'hello'", "", false},
		{"title > 'a'", "", true},
		{"deleted = null", "", true},
		{"deleted != null", "", false},
		{"missing = null", "", true},
		{"missing = 'x'", "", false},
		{"missing != 'x'", "", false},
		{"draft = true OR {userId} = owner_id", "u1", true},
		{"draft = true OR {userId} = owner_id", "u2", false},
		{"draft = false AND priority >= 3", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.condition+"/"+tt.userID, func(t *testing.T) {
			expr := Bind(MustParse(tt.condition), Binding{UserID: tt.userID})
			assert.Equal(t, tt.want, Eval(expr, record))
		})
	}
}

func TestEval_NumericIDs(t *testing.T) {
	expr := Bind(MustParse("{userId} = owner_id"), Binding{UserID: "42"})
	assert.True(t, Eval(expr, map[string]any{"owner_id": int64(42)}))
	assert.False(t, Eval(expr, map[string]any{"owner_id": int64(7)}))
}

func TestToSQL(t *testing.T) {
	tests := []struct {
		name     string
		expr     Expr
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "bound owner",
			expr:     Bind(MustParse("{userId} = owner_id"), Binding{UserID: "u1"}),
			wantSQL:  `? = "owner_id"`,
			wantArgs: []any{"u1"},
		},
		{
			name:     "or with literal",
			expr:     Bind(MustParse("draft = false OR {userId} = author_id"), Binding{UserID: "u1"}),
			wantSQL:  `("draft" = ? OR ? = "author_id")`,
			wantArgs: []any{false, "u1"},
		},
		{
			name:    "null test",
			expr:    MustParse("deleted_at = null"),
			wantSQL: `"deleted_at" IS NULL`,
		},
		{
			name:    "unbound user id reads session",
			expr:    MustParse("owner_id = {userId}"),
			wantSQL: `"owner_id"::text = NULLIF(current_setting('app.user_id', true), '')`,
		},
		{
			name:    "constants",
			expr:    And{True, False},
			wantSQL: `(1=1 AND 1=0)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := ToSQL(tt.expr).ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			if tt.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestSessionSQL(t *testing.T) {
	expr := Or{
		MustParse("draft = false"),
		And{
			Comparison{Left: UserID(), Op: OpNeq, Right: Null()},
			MustParse("{userId} = author_id"),
		},
		Eq(Role(), Literal("o'brien")),
	}

	got, err := SessionSQL(expr)
	require.NoError(t, err)
	assert.Equal(t,
		`("draft" = false) OR `+
			`((NULLIF(current_setting('app.user_id', true), '') IS NOT NULL) AND `+
			`(NULLIF(current_setting('app.user_id', true), '') = "author_id"::text)) OR `+
			`(NULLIF(current_setting('app.role', true), '') = 'o''brien')`,
		got)

	got, err = SessionSQL(False)
	require.NoError(t, err)
	assert.Equal(t, "false", got)
}

func TestString(t *testing.T) {
	expr := MustParse("draft = false OR ({userId} = author_id AND title = 'a')")
	assert.Equal(t, "draft = false OR ({userId} = author_id AND title = 'a')", expr.String())
}
