package store

import (
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"testing"
)

func TestMigrationsHaveUpAndDownSections(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d{5})_[a-z0-9_]+\.sql$`)
	seen := map[int]string{}

	for _, entry := range entries {
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			t.Fatalf("unexpected migration file name %q", name)
		}
		version, _ := strconv.Atoi(match[1])
		if prev, dup := seen[version]; dup {
			t.Fatalf("version %d used by both %s and %s", version, prev, name)
		}
		seen[version] = name

		body, err := fs.ReadFile(migrationsFS, migrationsDir+"/"+name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		text := string(body)
		up := strings.Index(text, "-- +goose Up")
		down := strings.Index(text, "-- +goose Down")
		if up < 0 || down < 0 || down < up {
			t.Fatalf("%s must contain an Up section followed by a Down section", name)
		}
		if strings.Count(text, "-- +goose StatementBegin") != strings.Count(text, "-- +goose StatementEnd") {
			t.Fatalf("%s has unbalanced StatementBegin/StatementEnd markers", name)
		}
	}

	if len(seen) == 0 {
		t.Fatal("no migrations discovered")
	}
	for v := 1; v <= len(seen); v++ {
		if _, ok := seen[v]; !ok {
			t.Fatalf("migration versions must be contiguous; missing %05d", v)
		}
	}
}

func TestAuditLogMigrationUsesBlockingTriggers(t *testing.T) {
	body, err := fs.ReadFile(migrationsFS, migrationsDir+"/00003_audit_log.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	text := string(body)

	for _, snippet := range []string{
		"audit_log_immutable_guard",
		"RAISE EXCEPTION",
		"CREATE TRIGGER trg_audit_log_block_update",
		"CREATE TRIGGER trg_audit_log_block_delete",
		"clock_timestamp()",
	} {
		if !strings.Contains(text, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
	if strings.Contains(text, "DO INSTEAD NOTHING") {
		t.Fatal("expected hard-fail immutability guard, found silent DO INSTEAD NOTHING rule")
	}
}

func TestMarriageMigrationGuardsMunasib(t *testing.T) {
	body, err := fs.ReadFile(migrationsFS, migrationsDir+"/00002_marriages.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "CREATE TRIGGER trg_marriage_munasib_guard") {
		t.Fatal("expected munasib trigger")
	}
	if !strings.Contains(text, "MESSAGE = 'munasib:") {
		t.Fatal("munasib trigger messages must carry the munasib: prefix the store maps on")
	}
}

func TestProfileMigrationGuardsMarriedOrigin(t *testing.T) {
	body, err := fs.ReadFile(migrationsFS, migrationsDir+"/00007_profile_munasib_guard.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	text := string(body)
	for _, snippet := range []string{
		"CREATE TRIGGER trg_profile_munasib_guard",
		"BEFORE UPDATE OF family_origin, hid ON profiles",
		"MESSAGE = format('munasib:",
	} {
		if !strings.Contains(text, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}
