package app

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"alqefari/api/internal/audit"
	"alqefari/api/internal/store"
)

func TestConcurrentEditConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for v, bio := range []string{"أول", "ثاني"} {
		_, err := f.svc.UpdateProfile(ctx, idAdmin, idH2134, v+1, Patch{"bio": raw(t, bio)})
		require.NoError(t, err)
	}
	require.Equal(t, 3, f.profile(t, idH2134).Version)

	// Actor B (the father) updates first.
	updated, err := f.svc.UpdateProfile(ctx, idH213, idH2134, 3, Patch{"occupation": raw(t, "مهندس")})
	require.NoError(t, err)
	require.Equal(t, 4, updated.Version)

	before := f.profile(t, idH2134)
	entries := len(f.auditFor(t, idH2134))

	// Actor A (the grandfather) still holds version 3.
	_, err = f.svc.UpdateProfile(ctx, idH21, idH2134, 3, Patch{"bio": raw(t, "قديم")})
	de := requireCode(t, err, CodeVersionConflict)
	require.Equal(t, 409, de.Status)
	require.Equal(t, map[string]any{"current": 4, "expected": 3}, de.Details)

	require.Equal(t, before, f.profile(t, idH2134))
	require.Len(t, f.auditFor(t, idH2134), entries)
}

func TestUpdateProfileBumpsVersionAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.UpdateProfile(ctx, idH2134, idH2134, 1, Patch{
		"bio":        raw(t, "  سيرة  "),
		"phone":      raw(t, "+966500000000"),
		"unknown":    raw(t, "ignored"),
		"created_at": raw(t, "2000-01-01"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, p.Version)
	require.Equal(t, "سيرة", *p.Bio)
	require.Equal(t, idH2134, *p.UpdatedBy)
	require.Equal(t, fixedNow, p.UpdatedAt)

	entries := f.auditFor(t, idH2134)
	require.Len(t, entries, 1)
	e := entries[0]
	require.Equal(t, audit.ActionProfileUpdate, e.Action)
	require.Equal(t, idH2134, e.ActorID)
	require.True(t, e.IsUndoable)
	require.ElementsMatch(t, []string{"bio", "phone"}, e.ChangedFields)
	v, ok := audit.Version(e.NewData)
	require.True(t, ok)
	require.Equal(t, 2, v)
	v, ok = audit.Version(e.OldData)
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestUpdateProfileVersionIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	version := 1
	for _, occupation := range []string{"طبيب", "معلم", "مهندس", "تاجر"} {
		p, err := f.svc.UpdateProfile(ctx, idAdmin, idH22, version, Patch{"occupation": raw(t, occupation)})
		require.NoError(t, err)
		require.Equal(t, version+1, p.Version)
		version = p.Version
	}

	before := f.profile(t, idH22)
	_, err := f.svc.UpdateProfile(ctx, idAdmin, idH22, version-1, Patch{"occupation": raw(t, "x")})
	requireCode(t, err, CodeVersionConflict)
	require.Equal(t, before, f.profile(t, idH22))
}

func TestUpdateProfileRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.forceDelete(t, idH221)

	tests := []struct {
		name    string
		actor   string
		target  string
		version int
		patch   Patch
		code    string
	}{
		{name: "missing version", actor: idAdmin, target: idH22, version: 0, patch: Patch{"bio": raw(t, "x")}, code: CodeInvalidInput},
		{name: "no updatable field", actor: idAdmin, target: idH22, version: 1, patch: Patch{"hid": raw(t, "H3")}, code: CodeInvalidInput},
		{name: "bad email", actor: idAdmin, target: idH22, version: 1, patch: Patch{"email": raw(t, "not-an-email")}, code: CodeInvalidInput},
		{name: "bad dob shape", actor: idAdmin, target: idH22, version: 1, patch: Patch{"dob_data": raw(t, map[string]any{"year": 1950})}, code: CodeInvalidInput},
		{name: "male mother", actor: idAdmin, target: idH22, version: 1, patch: Patch{"mother_id": raw(t, idRoot)}, code: CodeInvalidInput},
		{name: "distant cousin", actor: idH2134, target: idH22, version: 1, patch: Patch{"bio": raw(t, "x")}, code: CodePermissionDenied},
		{name: "unknown actor", actor: "p-nobody", target: idH22, version: 1, patch: Patch{"bio": raw(t, "x")}, code: CodePermissionDenied},
		{name: "deleted target", actor: idAdmin, target: idH221, version: 2, patch: Patch{"bio": raw(t, "x")}, code: CodeNotFound},
		{name: "missing target", actor: idAdmin, target: "p-missing", version: 1, patch: Patch{"bio": raw(t, "x")}, code: CodeNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.UpdateProfile(ctx, tc.actor, tc.target, tc.version, tc.patch)
			requireCode(t, err, tc.code)
		})
	}
	require.Equal(t, 1, f.profile(t, idH22).Version)
	require.Empty(t, f.auditFor(t, idH22))
}

func TestUpdateProfileAcceptsDualDate(t *testing.T) {
	f := newFixture(t)
	dob := map[string]any{"gregorian": map[string]any{"year": 1950, "month": 4}, "hijri": nil}

	p, err := f.svc.UpdateProfile(context.Background(), idAdmin, idH22, 1, Patch{"dob_data": raw(t, dob)})
	require.NoError(t, err)
	require.JSONEq(t, `{"gregorian":{"year":1950,"month":4},"hijri":null}`, string(p.DobData))
}

func TestUpdateProfileLockedRowIsContention(t *testing.T) {
	f := newFixture(t)
	release := f.store.HoldRowLock(store.TableProfiles, idH22)
	defer release()

	_, err := f.svc.UpdateProfile(context.Background(), idAdmin, idH22, 1, Patch{"bio": raw(t, "x")})
	de := requireCode(t, err, CodeLockContention)
	require.Equal(t, map[string]any{"retryable": true}, de.Details)
}

func TestCreateProfileUnderFather(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	child, err := f.svc.CreateProfile(ctx, idH213, CreateProfileInput{
		Name:     "تركي",
		Gender:   store.GenderMale,
		FatherID: ptr(idH213),
		Patch:    Patch{"occupation": raw(t, "طيار"), "hid": raw(t, "H7")},
	})
	require.NoError(t, err)
	require.Equal(t, "H2-1-3-5", *child.HID)
	require.Equal(t, 5, child.SiblingOrder)
	require.Equal(t, "طيار", *child.Occupation)
	require.Equal(t, 1, child.Version)

	chain, err := f.svc.AncestryChain(ctx, child.ID)
	require.NoError(t, err)
	require.Equal(t, "تركي بن عبدالعزيز بن سليمان بن محمد القفاري", chain.Text)
	require.Equal(t, 4, chain.Generation)

	entries := f.auditFor(t, child.ID)
	require.Len(t, entries, 1)
	require.Equal(t, audit.ActionProfileCreate, entries[0].Action)
	require.False(t, entries[0].IsUndoable)
}

func TestCreateProfileRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProfile(ctx, idH221, CreateProfileInput{Name: "x", Gender: "male", FatherID: ptr(idH2134)})
	requireCode(t, err, CodePermissionDenied)

	_, err = f.svc.CreateProfile(ctx, idAdmin, CreateProfileInput{Name: "x", Gender: "male", FatherID: ptr(idMod)})
	requireCode(t, err, CodeInvalidInput)

	_, err = f.svc.CreateProfile(ctx, idH21, CreateProfileInput{Name: "x", Gender: "male", HID: ptr("H5")})
	requireCode(t, err, CodeNotAdmin)

	_, err = f.svc.CreateProfile(ctx, idAdmin, CreateProfileInput{Name: "x", Gender: "male", HID: ptr("H5-1")})
	requireCode(t, err, CodeInvalidInput)

	_, err = f.svc.CreateProfile(ctx, idAdmin, CreateProfileInput{Name: "x", Gender: "other"})
	requireCode(t, err, CodeInvalidInput)

	root, err := f.svc.CreateProfile(ctx, idAdmin, CreateProfileInput{Name: "حمد", Gender: "male", HID: ptr("H5")})
	require.NoError(t, err)
	require.Equal(t, "H5", *root.HID)
}

func TestMunasibChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.CreateProfile(ctx, idH21, CreateProfileInput{
		Name:         "سارة",
		Gender:       store.GenderFemale,
		FamilyOrigin: ptr(" العتيبي "),
	})
	require.NoError(t, err)
	require.Nil(t, p.HID)

	chain, err := f.svc.AncestryChain(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "سارة العتيبي", chain.Text)

	_, err = f.svc.AncestryChain(ctx, "p-missing")
	requireCode(t, err, CodeNotFound)
}

func TestChainFollowsRename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chain, err := f.svc.AncestryChain(ctx, idH2134)
	require.NoError(t, err)
	require.Equal(t, "فهد بن عبدالعزيز بن سليمان بن محمد القفاري", chain.Text)

	_, err = f.svc.UpdateProfile(ctx, idAdmin, idH21, 1, Patch{"name": raw(t, "سلمان")})
	require.NoError(t, err)

	chain, err = f.svc.AncestryChain(ctx, idH2134)
	require.NoError(t, err)
	require.Equal(t, "فهد بن عبدالعزيز بن سلمان بن محمد القفاري", chain.Text)
}

func TestDeleteProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.DeleteProfile(ctx, idAdmin, idH213, 1)
	requireCode(t, err, CodeConflict)

	deleted, logID, err := f.svc.DeleteProfile(ctx, idH213, idH2134, 1)
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedAt)
	require.Equal(t, 2, deleted.Version)

	entry := f.auditEntry(t, logID)
	require.Equal(t, audit.ActionProfileSoftDelete, entry.Action)
	require.True(t, entry.IsUndoable)

	_, err = f.svc.GetProfile(ctx, idH2134)
	requireCode(t, err, CodeNotFound)
}

func TestListAuditLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for v := 1; v <= 3; v++ {
		_, err := f.svc.UpdateProfile(ctx, idAdmin, idH22, v, Patch{"bio": raw(t, fmt.Sprintf("سيرة %d", v))})
		require.NoError(t, err)
	}

	entries, err := f.svc.ListAuditLog(ctx, idAdmin, idH22, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Greater(t, entries[0].ID, entries[1].ID)

	_, err = f.svc.ListAuditLog(ctx, idH2134, idH22, 0)
	requireCode(t, err, CodePermissionDenied)

	entries, err = f.svc.ListAuditLog(ctx, idH221, idH22, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}
