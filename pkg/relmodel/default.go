package relmodel

// DefaultVersion identifies the compiled-in model revision
const DefaultVersion = "2026-08"

// Default returns the compiled-in relationship model for the current schema.
// This table is authoritative: the migration pipeline treats
// any relationship present in the schema but missing here as a build error.
func Default() *Model {
	m, err := New(DefaultVersion, defaultRelationships())
	if err != nil {
		// The compiled-in table is validated by tests; a failure here is a
		// programming error, not a runtime condition.
		panic("relmodel: invalid compiled-in model: " + err.Error())
	}
	return m
}

func defaultRelationships() []Relationship {
	return []Relationship{
		// Personal records have no meaning without their owner.
		{
			Name:         "query_log_owner",
			ChildTable:   "query_log_entries",
			ChildColumn:  "principal_id",
			ParentTable:  "principals",
			ParentColumn: "id",
			Policy:       PolicyCascade,
		},
		{
			Name:         "saved_item_owner",
			ChildTable:   "saved_items",
			ChildColumn:  "principal_id",
			ParentTable:  "principals",
			ParentColumn: "id",
			Policy:       PolicyCascade,
		},
		{
			Name:         "search_history_owner",
			ChildTable:   "search_history",
			ChildColumn:  "principal_id",
			ParentTable:  "principals",
			ParentColumn: "id",
			Policy:       PolicyCascade,
		},
		{
			Name:         "auth_link_owner",
			ChildTable:   "auth_links",
			ChildColumn:  "principal_id",
			ParentTable:  "principals",
			ParentColumn: "id",
			Policy:       PolicyCascade,
			Unique: &UniqueSpec{
				Name:    "gh_uq_auth_links_principal_provider",
				Columns: []string{"principal_id", "provider"},
			},
		},
		{
			Name:         "org_preference_owner",
			ChildTable:   "org_preferences",
			ChildColumn:  "principal_id",
			ParentTable:  "principals",
			ParentColumn: "id",
			Policy:       PolicyCascade,
		},
		{
			Name:         "org_preference_organization",
			ChildTable:   "org_preferences",
			ChildColumn:  "organization_id",
			ParentTable:  "organizations",
			ParentColumn: "id",
			Policy:       PolicyCascade,
			DependsOn:    []string{"membership_organization"},
		},
		{
			Name:         "feedback_owner",
			ChildTable:   "feedback_items",
			ChildColumn:  "principal_id",
			ParentTable:  "principals",
			ParentColumn: "id",
			Policy:       PolicyCascade,
		},

		// Audit and analytics value outlives the individual account: keep the
		// row, anonymize the actor.
		{
			Name:         "audit_actor",
			ChildTable:   "audit_records",
			ChildColumn:  "principal_id",
			ParentTable:  "principals",
			ParentColumn: "id",
			Policy:       PolicySetNull,
		},
		{
			Name:         "analytics_actor",
			ChildTable:   "analytics_events",
			ChildColumn:  "principal_id",
			ParentTable:  "principals",
			ParentColumn: "id",
			Policy:       PolicySetNull,
		},

		// Uploaded artifacts are a contribution of record; deleting the
		// uploader is refused while they exist, and the rows stay
		// admin-read-only to preserve provenance. The uploader reference was
		// historically free-text (uploader_name); stage 2 of the pipeline
		// resolves it against principals.username.
		{
			Name:           "upload_credit",
			ChildTable:     "uploaded_artifacts",
			ChildColumn:    "uploader_id",
			ParentTable:    "principals",
			ParentColumn:   "id",
			Policy:         PolicyRestrict,
			AdminImmutable: true,
			LegacyColumn:   "uploader_name",
			CorrelateBy:    "username",
		},

		// Organization-scoped records.
		{
			Name:         "membership_organization",
			ChildTable:   "memberships",
			ChildColumn:  "organization_id",
			ParentTable:  "organizations",
			ParentColumn: "id",
			Policy:       PolicyCascade,
			Unique: &UniqueSpec{
				Name:    "gh_uq_memberships_org_principal",
				Columns: []string{"organization_id", "principal_id"},
			},
		},
		{
			Name:         "membership_principal",
			ChildTable:   "memberships",
			ChildColumn:  "principal_id",
			ParentTable:  "principals",
			ParentColumn: "id",
			Policy:       PolicyCascade,
		},
		{
			Name:         "artifact_organization",
			ChildTable:   "artifacts",
			ChildColumn:  "organization_id",
			ParentTable:  "organizations",
			ParentColumn: "id",
			Policy:       PolicyCascade,
		},
		{
			Name:         "artifact_author",
			ChildTable:   "artifacts",
			ChildColumn:  "author_id",
			ParentTable:  "principals",
			ParentColumn: "id",
			Policy:       PolicySetNull,
			DependsOn:    []string{"artifact_organization"},
		},
	}
}
