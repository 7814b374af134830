package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewSQLiteDB_CreatesTables(t *testing.T) {
	db := newTestDB(t)

	tables := []string{"notifications", "templates", "recipients", "email_send_log", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRowContext(context.Background(), "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestNewSQLiteDB_MigrationVersion(t *testing.T) {
	db := newTestDB(t)

	var version int
	err := db.QueryRowContext(context.Background(), "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		t.Fatalf("querying version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("expected version %d, got %d", len(migrations), version)
	}
}

func TestNewSQLiteDB_FreshDBFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "notifier.db")

	db, fresh, err := NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	if !fresh {
		t.Error("expected freshDB=true for new database")
	}
	_ = db.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	db, fresh, err = NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("reopening database: %v", err)
	}
	defer db.Close() //nolint:errcheck
	if fresh {
		t.Error("expected freshDB=false when reopening")
	}
}

func TestNewSQLiteDB_EmptyPath(t *testing.T) {
	if _, _, err := NewSQLiteDB(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestMillisRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 30, 15, 123_000_000, time.FixedZone("MSK", 3*3600))
	got := fromMillis(toMillis(ts))
	if !got.Equal(ts) {
		t.Errorf("round trip mismatch: %v != %v", got, ts)
	}
	if got.Location() != time.UTC {
		t.Errorf("expected UTC location, got %v", got.Location())
	}
	if nullMillis(nil) != nil {
		t.Error("expected nil for nil time")
	}
	if timePtr(nil) != nil {
		t.Error("expected nil pointer for NULL column")
	}
}

// --- Template Store Tests ---

func TestSQLiteTemplateStore_CRUD(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLiteTemplateStore(db)
	ctx := context.Background()

	tpl := &Template{
		ID:        "tpl-1",
		Code:      "booking_confirmed",
		Channel:   ChannelTelegram,
		Body:      "Hello {{.name}}",
		Active:    true,
		UpdatedAt: time.Now(),
	}
	if err := store.SaveTemplate(ctx, tpl); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.FindTemplate(ctx, "booking_confirmed", ChannelTelegram)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.ID != "tpl-1" {
		t.Fatalf("expected tpl-1, got %+v", got)
	}

	missing, err := store.FindTemplate(ctx, "booking_confirmed", ChannelEmail)
	if err != nil {
		t.Fatalf("find other channel: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for channel without template")
	}

	// Inactive templates are not found by code.
	tpl.Active = false
	tpl.Body = "Updated"
	if err := store.SaveTemplate(ctx, tpl); err != nil {
		t.Fatalf("save update: %v", err)
	}
	inactive, err := store.FindTemplate(ctx, "booking_confirmed", ChannelTelegram)
	if err != nil {
		t.Fatalf("find inactive: %v", err)
	}
	if inactive != nil {
		t.Error("expected inactive template to be hidden")
	}

	byID, err := store.GetTemplate(ctx, "tpl-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if byID.Body != "Updated" || byID.Active {
		t.Errorf("unexpected template after update: %+v", byID)
	}

	list, err := store.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 template, got %d", len(list))
	}
}

func TestLoadTemplateSeeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	content := `templates:
  - id: reminder-tg
    code: reminder
    channel: TELEGRAM
    active: true
    body: "Напоминаем о занятии {{.date}}"
  - id: reminder-email
    code: reminder
    channel: EMAIL
    active: true
    subject: "Напоминание"
    body: "<p>{{.date}}</p>"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing seed file: %v", err)
	}

	tpls, err := LoadTemplateSeeds(path)
	if err != nil {
		t.Fatalf("loading seeds: %v", err)
	}
	if len(tpls) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(tpls))
	}
	if tpls[1].Channel != ChannelEmail || tpls[1].Subject != "Напоминание" {
		t.Errorf("unexpected second template: %+v", tpls[1])
	}

	none, err := LoadTemplateSeeds(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if none != nil {
		t.Errorf("expected no templates, got %d", len(none))
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("templates:\n  - id: x\n    code: y\n    channel: SMS\n"), 0600); err != nil {
		t.Fatalf("writing bad seed file: %v", err)
	}
	if _, err := LoadTemplateSeeds(bad); err == nil {
		t.Error("expected error for unknown channel")
	}
}

// --- Recipient Store Tests ---

func TestSQLiteRecipientStore_Filter(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLiteRecipientStore(db)
	ctx := context.Background()

	seed := []*Recipient{
		{ID: "r1", Name: "Анна", GroupName: "yoga", Active: true, TelegramChatID: "1001"},
		{ID: "r2", Name: "Борис", GroupName: "yoga", Active: false, Email: "boris@example.com"},
		{ID: "r3", Name: "Вера", GroupName: "pilates", Active: true, Email: "vera@example.com",
			Preferences: Preferences{EmailEnabled: true, MarketingConsent: true}},
	}
	for _, r := range seed {
		if err := store.SaveRecipient(ctx, r); err != nil {
			t.Fatalf("save %s: %v", r.ID, err)
		}
	}

	yoga, err := store.ListRecipients(ctx, RecipientFilter{GroupName: "yoga"})
	if err != nil {
		t.Fatalf("list yoga: %v", err)
	}
	if len(yoga) != 2 {
		t.Errorf("expected 2 yoga recipients, got %d", len(yoga))
	}

	active, err := store.ListRecipients(ctx, RecipientFilter{GroupName: "yoga", ActiveOnly: true})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != "r1" {
		t.Errorf("expected only r1, got %+v", active)
	}

	byIDs, err := store.ListRecipients(ctx, RecipientFilter{IDs: []string{"r3", "r1"}})
	if err != nil {
		t.Fatalf("list by ids: %v", err)
	}
	if len(byIDs) != 2 || byIDs[0].ID != "r1" {
		t.Errorf("expected r1,r3 ordered by id, got %+v", byIDs)
	}

	r3, err := store.GetRecipient(ctx, "r3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !r3.Preferences.EmailEnabled || !r3.Preferences.MarketingConsent || r3.Preferences.TelegramEnabled {
		t.Errorf("preferences not round-tripped: %+v", r3.Preferences)
	}
}

func TestPreferences_Allows(t *testing.T) {
	p := Preferences{TelegramEnabled: true, ServiceConsent: true}

	tests := []struct {
		name      string
		channel   Channel
		eventType string
		want      bool
	}{
		{"service on enabled channel", ChannelTelegram, "booking.confirmed", true},
		{"mass broadcast without marketing consent", ChannelTelegram, EventTypeMassBroadcast, false},
		{"marketing prefix", ChannelTelegram, "marketing.promo", false},
		{"disabled channel", ChannelEmail, "booking.confirmed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Allows(tt.channel, tt.eventType); got != tt.want {
				t.Errorf("Allows(%s, %q) = %v, want %v", tt.channel, tt.eventType, got, tt.want)
			}
		})
	}
}
