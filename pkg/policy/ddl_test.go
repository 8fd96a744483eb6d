package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeep/pkg/schema"
)

const (
	userSetting = "NULLIF(current_setting('app.user_id', true), '')"
	roleSetting = "NULLIF(current_setting('app.role', true), '')"
	orgSetting  = "NULLIF(current_setting('app.org_id', true), '')"
)

func TestPolicies_Tasks(t *testing.T) {
	policies, err := Policies(compileTestSchema(t).MustPlan("tasks"))
	require.NoError(t, err)
	require.Len(t, policies, 4)

	assert.Equal(t,
		`CREATE POLICY "gatekeep_tasks_read" ON "tasks" AS PERMISSIVE FOR SELECT USING (`+
			`(`+userSetting+` IS NOT NULL) AND (`+userSetting+` = "owner_id"::text))`,
		policies[0].SQL())
	assert.Equal(t,
		`CREATE POLICY "gatekeep_tasks_create" ON "tasks" AS PERMISSIVE FOR INSERT WITH CHECK (`+userSetting+` IS NOT NULL)`,
		policies[1].SQL())

	update := policies[2]
	assert.Equal(t, CommandUpdate, update.Command)
	assert.Equal(t, update.Using, update.WithCheck)
	assert.Contains(t, update.Using, `"owner_id"::text = `+userSetting)

	assert.Equal(t,
		`CREATE POLICY "gatekeep_tasks_delete" ON "tasks" AS PERMISSIVE FOR DELETE USING (`+
			`(`+userSetting+` IS NOT NULL) AND ((`+roleSetting+` = 'admin') OR (`+roleSetting+` = 'owner')))`,
		policies[3].SQL())
}

func TestPolicies_SkipsDeniedActions(t *testing.T) {
	set := compileTestSchema(t)

	policies, err := Policies(set.MustPlan("articles"))
	require.NoError(t, err)
	commands := make([]PolicyCommand, 0, len(policies))
	for _, p := range policies {
		commands = append(commands, p.Command)
	}
	assert.Equal(t, []PolicyCommand{CommandSelect, CommandInsert}, commands, "update has no rule, delete allows nobody")
	assert.Contains(t, policies[0].Using, `"organization_id"::text = `+orgSetting)

	policies, err = Policies(set.MustPlan("audit_events"))
	require.NoError(t, err)
	assert.Empty(t, policies)
}

func TestGenerateDDL_Tasks(t *testing.T) {
	stmts, err := GenerateDDL(compileTestSchema(t).MustPlan("tasks"), DDLOptions{Role: "app"})
	require.NoError(t, err)

	assert.Equal(t, `ALTER TABLE "tasks" ENABLE ROW LEVEL SECURITY`, stmts[0])
	assert.Equal(t, `ALTER TABLE "tasks" FORCE ROW LEVEL SECURITY`, stmts[1])
	assert.Equal(t, `DROP POLICY IF EXISTS "gatekeep_tasks_read" ON "tasks"`, stmts[2])

	assert.Contains(t, stmts, `REVOKE ALL ON "tasks" FROM "app"`)
	assert.Contains(t, stmts, `GRANT SELECT ("id", "title", "owner_id") ON "tasks" TO "app"`, "notes is read through the view")
	assert.Contains(t, stmts, `GRANT INSERT ("id", "title", "notes", "owner_id") ON "tasks" TO "app"`)
	assert.Contains(t, stmts, `GRANT UPDATE ("id", "title", "notes", "owner_id") ON "tasks" TO "app"`)
	assert.Contains(t, stmts, `GRANT DELETE ON "tasks" TO "app"`)

	assert.Contains(t, stmts, `DROP VIEW IF EXISTS "tasks_visible"`)
	assert.Contains(t, stmts,
		`CREATE VIEW "tasks_visible" WITH (security_barrier) AS SELECT "id", "title", `+
			`CASE WHEN `+userSetting+` = "owner_id"::text THEN "notes" END AS "notes", "owner_id" FROM "tasks" `+
			`WHERE (`+userSetting+` IS NOT NULL) AND (`+userSetting+` = "owner_id"::text)`)
	assert.Equal(t, `GRANT SELECT ON "tasks_visible" TO "app"`, stmts[len(stmts)-1])
}

func TestGenerateDDL_FieldWriteRulesWithholdGrants(t *testing.T) {
	s, err := schema.Parse([]byte(`
tables:
  - name: invoices
    fields:
      - {name: amount, type: number}
      - {name: status, type: text}
      - {name: owner_id, type: text}
    permissions:
      read: authenticated
      create: authenticated
      update: authenticated
      fields:
        - field: status
          write: {type: owner, field: owner_id}
`))
	require.NoError(t, err)
	set, err := CompileSchema(s)
	require.NoError(t, err)

	stmts, err := GenerateDDL(set.MustPlan("invoices"), DDLOptions{Role: "app"})
	require.NoError(t, err)
	assert.Contains(t, stmts, `GRANT SELECT ("id", "amount", "status", "owner_id") ON "invoices" TO "app"`)
	assert.Contains(t, stmts, `GRANT INSERT ("id", "amount", "owner_id") ON "invoices" TO "app"`,
		"status is written through the application, not the grant")
	assert.Contains(t, stmts, `GRANT UPDATE ("id", "amount", "owner_id") ON "invoices" TO "app"`)
}

func TestGenerateDDL_DefaultDeny(t *testing.T) {
	stmts, err := GenerateDDL(compileTestSchema(t).MustPlan("audit_events"), DDLOptions{Role: "app"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		`ALTER TABLE "audit_events" ENABLE ROW LEVEL SECURITY`,
		`ALTER TABLE "audit_events" FORCE ROW LEVEL SECURITY`,
		`DROP POLICY IF EXISTS "gatekeep_audit_events_read" ON "audit_events"`,
		`DROP POLICY IF EXISTS "gatekeep_audit_events_create" ON "audit_events"`,
		`DROP POLICY IF EXISTS "gatekeep_audit_events_update" ON "audit_events"`,
		`DROP POLICY IF EXISTS "gatekeep_audit_events_delete" ON "audit_events"`,
		`REVOKE ALL ON "audit_events" FROM "app"`,
	}, stmts)
}

func TestGenerateDDL_WithoutRole(t *testing.T) {
	stmts, err := GenerateDDL(compileTestSchema(t).MustPlan("posts"), DDLOptions{ViewSuffix: "_masked"})
	require.NoError(t, err)

	for _, stmt := range stmts {
		assert.NotContains(t, stmt, "GRANT")
	}
	assert.Contains(t, stmts,
		`CREATE VIEW "posts_masked" WITH (security_barrier) AS SELECT "id", "title", `+
			`CASE WHEN `+userSetting+` IS NOT NULL THEN "body" END AS "body", "draft", "author_id" FROM "posts" `+
			`WHERE ("draft" = false) OR (`+userSetting+` = "author_id"::text)`)
}

func TestGenerateSchemaDDL(t *testing.T) {
	stmts, err := GenerateSchemaDDL(compileTestSchema(t), DDLOptions{})
	require.NoError(t, err)

	index := func(stmt string) int {
		for i, s := range stmts {
			if s == stmt {
				return i
			}
		}
		return -1
	}
	users := index(`ALTER TABLE "users" ENABLE ROW LEVEL SECURITY`)
	tasks := index(`ALTER TABLE "tasks" ENABLE ROW LEVEL SECURITY`)
	require.NotEqual(t, -1, users)
	assert.Less(t, users, tasks, "referenced tables first")
}

func TestCommand(t *testing.T) {
	assert.Equal(t, CommandSelect, Command(schema.ActionRead))
	assert.Equal(t, CommandInsert, Command(schema.ActionCreate))
	assert.Equal(t, CommandUpdate, Command(schema.ActionUpdate))
	assert.Equal(t, CommandDelete, Command(schema.ActionDelete))
}
