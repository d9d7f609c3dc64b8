// Package userstore provides authcore.UserProvider implementations: an
// in-memory store for development and tests, and a Postgres store backed
// by pgx.
package userstore
