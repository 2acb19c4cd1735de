package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestConfigErrors(t *testing.T) {
	notFound := &ErrConfigNotFound{Path: "/tmp/config.yaml"}
	if !strings.Contains(notFound.Error(), notFound.Path) {
		t.Fatalf("expected path in error message: %s", notFound.Error())
	}

	base := stderrors.New("bad yaml")
	parse := &ErrConfigParse{Err: base}
	if !Is(parse, base) {
		t.Fatalf("expected unwrap to base error")
	}

	validation := &ErrConfigValidation{Err: base}
	if !strings.Contains(validation.Error(), "config validation failed") {
		t.Fatalf("unexpected validation message: %s", validation.Error())
	}
	if !Is(validation, base) {
		t.Fatalf("expected unwrap to base error")
	}
}

func TestDatabaseErrors(t *testing.T) {
	base := stderrors.New("db")

	query := &ErrDatabaseQuery{Operation: "count events", Err: base}
	if !strings.Contains(query.Error(), "count events") {
		t.Fatalf("unexpected query message: %s", query.Error())
	}
	if !Is(query, base) {
		t.Fatalf("expected unwrap to base error")
	}

	wrapped := fmt.Errorf("usage: %w", query)
	var target *ErrDatabaseQuery
	if !As(wrapped, &target) || target.Operation != "count events" {
		t.Fatalf("expected As to find the query error")
	}

	migration := &ErrDatabaseMigration{Version: 2, Err: base}
	if !strings.Contains(migration.Error(), "database migration 2 failed") {
		t.Fatalf("unexpected migration message: %s", migration.Error())
	}
}

func TestCapReached(t *testing.T) {
	reset := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	err := &ErrCapReached{TenantID: "t1", Used: 200, Cap: 200, ResetDate: reset}

	msg := err.Error()
	if !strings.Contains(msg, "200/200") || !strings.Contains(msg, "2026-04-01") {
		t.Fatalf("unexpected cap message: %s", msg)
	}

	var target *ErrCapReached
	if !As(fmt.Errorf("ingest: %w", err), &target) {
		t.Fatalf("expected As to match ErrCapReached")
	}
}

func TestNotificationSend(t *testing.T) {
	base := stderrors.New("smtp 451")
	err := &ErrNotificationSend{Kind: "limit", TenantID: "t1", Err: base}
	if !Is(err, base) {
		t.Fatalf("expected unwrap to base error")
	}
	if !strings.Contains(err.Error(), "limit") {
		t.Fatalf("expected kind in message: %s", err.Error())
	}
}
