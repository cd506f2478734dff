package router

import (
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
)

// nullString trims value and leaves the column NULL when nothing remains.
func nullString(value string) bigquery.NullString {
	trimmed := strings.TrimSpace(value)
	return bigquery.NullString{StringVal: trimmed, Valid: trimmed != ""}
}

func nullUUID(id uuid.UUID) bigquery.NullString {
	if id == uuid.Nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: id.String(), Valid: true}
}
