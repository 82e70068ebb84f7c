package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"alqefari/api/internal/config"
	"alqefari/api/internal/lease"
	"alqefari/api/internal/store"
)

// Tree used by most tests:
//
//	H2   p-root
//	├── H2-1 p-h21
//	│   └── H2-1-3 p-h213
//	│       └── H2-1-3-4 p-h2134
//	└── H2-2 p-h22
//	    └── H2-2-1 p-h221
//	H9   p-admin (admin role)
//
// p-mod and p-wife are Munasib profiles with no HID.
const (
	idRoot  = "p-root"
	idH21   = "p-h21"
	idH213  = "p-h213"
	idH2134 = "p-h2134"
	idH22   = "p-h22"
	idH221  = "p-h221"
	idAdmin = "p-admin"
	idMod   = "p-mod"
	idWife  = "p-wife"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	store  *store.MemoryStore
	locker *lease.LocalLocker
	hook   *logtest.Hook
}

func testConfig() config.Config {
	return config.Config{
		StoreDriver:      config.StoreMemory,
		JWTSecret:        "test-secret",
		AccessTTL:        time.Hour,
		CORSOrigin:       "*",
		SuggestionRate:   "3-H",
		UndoLeaseTTL:     time.Minute,
		ChainMaxDepth:    12,
		FamilyNameSuffix: "القفاري",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return fixedNow })

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	locker := lease.NewLocalLocker(time.Minute)

	svc, err := New(testConfig(), st, Deps{Locker: locker, Log: logrus.NewEntry(logger)})
	require.NoError(t, err)
	svc.now = func() time.Time { return fixedNow }

	f := &fixture{svc: svc, store: st, locker: locker, hook: hook}
	f.seedTree(t)
	return f
}

func ptr(s string) *string { return &s }

func (f *fixture) seed(t *testing.T, p store.Profile) {
	t.Helper()
	if p.Gender == "" {
		p.Gender = store.GenderMale
	}
	if p.Status == "" {
		p.Status = store.StatusAlive
	}
	if p.Role == "" {
		p.Role = "user"
	}
	if p.Version == 0 {
		p.Version = 1
	}
	p.CreatedAt = fixedNow.Add(-24 * time.Hour)
	p.UpdatedAt = p.CreatedAt
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertProfile(context.Background(), p)
	}))
}

func (f *fixture) seedTree(t *testing.T) {
	t.Helper()
	f.seed(t, store.Profile{ID: idRoot, HID: ptr("H2"), Name: "محمد"})
	f.seed(t, store.Profile{ID: idH21, HID: ptr("H2-1"), Name: "سليمان", FatherID: ptr(idRoot), SiblingOrder: 1})
	f.seed(t, store.Profile{ID: idH213, HID: ptr("H2-1-3"), Name: "عبدالعزيز", FatherID: ptr(idH21), SiblingOrder: 3})
	f.seed(t, store.Profile{ID: idH2134, HID: ptr("H2-1-3-4"), Name: "فهد", FatherID: ptr(idH213), SiblingOrder: 4})
	f.seed(t, store.Profile{ID: idH22, HID: ptr("H2-2"), Name: "صالح", FatherID: ptr(idRoot), SiblingOrder: 2})
	f.seed(t, store.Profile{ID: idH221, HID: ptr("H2-2-1"), Name: "ناصر", FatherID: ptr(idH22), SiblingOrder: 1})
	f.seed(t, store.Profile{ID: idAdmin, HID: ptr("H9"), Name: "خالد", Role: "admin"})
	f.seed(t, store.Profile{ID: idMod, Name: "منيرة", Gender: store.GenderFemale, Role: "moderator", FamilyOrigin: ptr("السبيعي")})
	f.seed(t, store.Profile{ID: idWife, Name: "نورة", Gender: store.GenderFemale, FamilyOrigin: ptr("الدوسري")})
}

func (f *fixture) profile(t *testing.T, id string) store.Profile {
	t.Helper()
	var p store.Profile
	require.NoError(t, f.store.View(context.Background(), func(tx store.Tx) error {
		var err error
		p, err = tx.GetProfile(context.Background(), id)
		return err
	}))
	return p
}

func (f *fixture) auditFor(t *testing.T, recordID string) []store.AuditEntry {
	t.Helper()
	var out []store.AuditEntry
	require.NoError(t, f.store.View(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.ListAuditForRecord(context.Background(), recordID, 1000)
		return err
	}))
	return out
}

func (f *fixture) auditEntry(t *testing.T, id int64) store.AuditEntry {
	t.Helper()
	var e store.AuditEntry
	require.NoError(t, f.store.View(context.Background(), func(tx store.Tx) error {
		var err error
		e, err = tx.GetAuditEntry(context.Background(), id)
		return err
	}))
	return e
}

// lastLogID is the newest audit entry of a record.
func (f *fixture) lastLogID(t *testing.T, recordID string) int64 {
	t.Helper()
	entries := f.auditFor(t, recordID)
	require.NotEmpty(t, entries)
	return entries[0].ID
}

// forceDelete soft-deletes a profile without going through the service, as a
// concurrent writer would.
func (f *fixture) forceDelete(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		p, err := tx.GetProfile(context.Background(), id)
		if err != nil {
			return err
		}
		at := fixedNow
		p.DeletedAt = &at
		p.Version++
		return tx.UpdateProfile(context.Background(), p)
	}))
}

func (f *fixture) assignModerator(t *testing.T, profileID, branch string) {
	t.Helper()
	_, err := f.svc.AssignBranchModerator(context.Background(), idAdmin, profileID, branch)
	require.NoError(t, err)
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func requireCode(t *testing.T, err error, code string) *DomainError {
	t.Helper()
	require.Error(t, err)
	var de *DomainError
	require.ErrorAs(t, err, &de)
	require.Equal(t, code, de.Code, de.Message)
	return de
}
