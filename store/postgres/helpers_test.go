package postgres

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bprzybys-nc/manager-sub001/incident"
)

func TestWhere(t *testing.T) {
	var w where
	if w.String() != "" {
		t.Errorf("empty where rendered %q", w.String())
	}

	w.add("state = ?", "running")
	w.add("queue = ?", "default")
	w.add("resolved_at IS NULL")
	page := w.page(10, 20)

	if got, want := w.String(), " WHERE state = $1 AND queue = $2 AND resolved_at IS NULL"; got != want {
		t.Errorf("where = %q, want %q", got, want)
	}
	if got, want := page, " LIMIT $3 OFFSET $4"; got != want {
		t.Errorf("page = %q, want %q", got, want)
	}
	if len(w.args) != 4 {
		t.Errorf("expected 4 args, got %v", w.args)
	}
}

func TestWhere_PageOmitsZero(t *testing.T) {
	var w where
	if got := w.page(0, 0); got != "" {
		t.Errorf("page = %q", got)
	}
	if len(w.args) != 0 {
		t.Errorf("unexpected args %v", w.args)
	}
}

func TestSourcesOf(t *testing.T) {
	if got := sourcesOf(incident.StatusAcknowledged); !slices.Equal(got, []string{"open", "acknowledged"}) {
		t.Errorf("sources of acknowledged = %v", got)
	}
	if got := sourcesOf(incident.StatusIgnored); len(got) != 4 {
		t.Errorf("ignored must be reachable from every status, got %v", got)
	}
}

func TestErrorClassifiers(t *testing.T) {
	if !isNoRows(fmt.Errorf("get: %w", pgx.ErrNoRows)) {
		t.Error("wrapped ErrNoRows not detected")
	}
	if !isDuplicateKey(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Error("unique violation not detected")
	}
	if isDuplicateKey(&pgconn.PgError{Code: "23503"}) || isDuplicateKey(errors.New("23505")) {
		t.Error("false positive duplicate key")
	}
}
