// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from the document types handed to callers so the
// store interface stays free of ORM concerns.
//
// Every record lives in a single "documents" table keyed by its full path. The
// parent collection path is indexed so collection queries are a single
// equality lookup.
package models
