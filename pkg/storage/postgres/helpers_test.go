package postgres

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeep/pkg/access"
	"github.com/platinummonkey/gatekeep/pkg/policy"
	"github.com/platinummonkey/gatekeep/pkg/schema"
	"github.com/platinummonkey/gatekeep/pkg/session"
)

const testSchema = `
tables:
  - name: tickets
    fields:
      - {name: title, type: text}
      - {name: secret, type: text}
      - {name: owner_id, type: text}
    permissions:
      read: authenticated
      create: authenticated
      delete: {type: owner, field: owner_id}
      fields:
        - field: secret
          read: {type: custom, condition: "{userId} = owner_id"}
  - name: posts
    fields:
      - {name: title, type: text}
      - {name: body, type: text}
      - {name: draft, type: boolean}
      - {name: author_id, type: text}
    permissions:
      read: public
      fields:
        - field: body
          read: authenticated
      records:
        - action: read
          condition: "draft = false OR {userId} = author_id"
  - name: articles
    fields:
      - {name: title, type: text}
    permissions:
      organizationScoped: true
      read: authenticated
      create: {type: roles, roles: [owner]}
`

var (
	anonymous = session.Actor{}
	alice     = session.Actor{ID: "alice", Role: "member"}
	olga      = session.Actor{ID: "olga", Role: "owner", OrganizationID: "acme"}
)

func compileTestSchema(t *testing.T) *policy.PlanSet {
	t.Helper()
	s, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)
	set, err := policy.CompileSchema(s)
	require.NoError(t, err)
	return set
}

func newTestEngine(t *testing.T) *access.Engine {
	t.Helper()
	return access.NewEngine(access.Config{Plans: compileTestSchema(t)})
}
