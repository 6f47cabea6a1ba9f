package provider

import (
	"context"
	"unicode/utf8"

	"github.com/sells-group/cardsync/internal/model"
)

// Archiver stores the forensic record of every fetched page.
type Archiver interface {
	ArchivePage(ctx context.Context, rec model.PageArchive) error
}

// ArchiverFunc adapts a function to Archiver.
type ArchiverFunc func(ctx context.Context, rec model.PageArchive) error

// ArchivePage implements Archiver.
func (f ArchiverFunc) ArchivePage(ctx context.Context, rec model.PageArchive) error {
	return f(ctx, rec)
}

// BodySample trims body to at most limit bytes without splitting a UTF-8
// sequence. The second return reports whether anything was cut.
func BodySample(body []byte, limit int) (string, bool) {
	if limit <= 0 || len(body) <= limit {
		return string(body), false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]), true
}
