// Package access decides which documents a caller may see.
//
// The same rule is available in two forms: CanView evaluates it in memory for a
// single document, and Scope renders it as a GORM WHERE group so that listing
// queries, their total counts and by-id lookups are all filtered before any row
// leaves the database.
package access

import (
	"slices"

	"gorm.io/gorm"
)

// RestrictedCategory is visible only to admins and to assigned viewers that
// hold the special-access flag.
const RestrictedCategory = "BLASTING"

// Viewer is the caller side of the predicate.
type Viewer struct {
	UserID        int
	Role          Role
	SpecialAccess bool
}

// Document is the document side of the predicate.
type Document struct {
	Category    string
	AdminOnly   bool
	AssigneeIDs []int
}

// CanView reports whether v may see doc.
func CanView(v Viewer, doc Document) bool {
	if v.Role.IsAdmin() {
		return true
	}
	if doc.AdminOnly {
		return false
	}
	if doc.Category == RestrictedCategory {
		if !v.SpecialAccess {
			return false
		}
		return slices.Contains(doc.AssigneeIDs, v.UserID)
	}
	return true
}

// Table names the scope refers to. They must match the GORM models.
const (
	documentsTable   = "documents"
	assignmentsTable = "document_assignments"
)

// Scope returns a GORM scope restricting a documents query to rows v may see.
// It is meant to be combined with other filters via db.Scopes and never
// widens an existing condition.
func Scope(v Viewer) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if v.Role.IsAdmin() {
			return db
		}

		db = db.Where(documentsTable+".admin_only = ?", false)

		if !v.SpecialAccess {
			return db.Where(documentsTable+".category <> ?", RestrictedCategory)
		}

		assigned := db.Session(&gorm.Session{NewDB: true}).
			Table(assignmentsTable).
			Select("1").
			Where(assignmentsTable+".document_id = "+documentsTable+".id").
			Where(assignmentsTable+".user_id = ?", v.UserID)

		return db.Where(
			db.Session(&gorm.Session{NewDB: true}).
				Where(documentsTable+".category <> ?", RestrictedCategory).
				Or("EXISTS (?)", assigned),
		)
	}
}
