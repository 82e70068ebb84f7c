package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"alqefari/api/internal/audit"
	"alqefari/api/internal/store"
)

func (f *fixture) suggestion(t *testing.T, id string) store.EditSuggestion {
	t.Helper()
	var s store.EditSuggestion
	require.NoError(t, f.store.View(context.Background(), func(tx store.Tx) error {
		var err error
		s, err = tx.GetSuggestion(context.Background(), id)
		return err
	}))
	return s
}

func TestSuggestionAppliesDirectlyWithEditRights(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.SubmitEditSuggestion(context.Background(), idH213, SuggestionInput{
		ProfileID: idH2134,
		Field:     "occupation",
		NewValue:  raw(t, "طيار"),
	})
	require.NoError(t, err)
	require.True(t, out.Applied)
	require.Empty(t, out.SuggestionID)
	require.Equal(t, 2, out.Profile.Version)
	require.Equal(t, "طيار", *f.profile(t, idH2134).Occupation)
}

func TestSuggestionReviewFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.SubmitEditSuggestion(ctx, idMod, SuggestionInput{
		ProfileID: idH22,
		Field:     "birth_place",
		NewValue:  raw(t, "عنيزة"),
		Reason:    ptr("أعرفه شخصيا"),
	})
	require.NoError(t, err)
	require.False(t, out.Applied)
	require.NotEmpty(t, out.SuggestionID)
	require.Equal(t, 1, f.profile(t, idH22).Version)

	pending, err := f.svc.ListPendingSuggestions(ctx, idH221, idH22)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].ProfileVersion)
	require.JSONEq(t, `"عنيزة"`, string(pending[0].NewValue))

	_, err = f.svc.ListPendingSuggestions(ctx, idMod, idH22)
	requireCode(t, err, CodePermissionDenied)
	_, err = f.svc.ApproveEditSuggestion(ctx, idMod, out.SuggestionID)
	requireCode(t, err, CodePermissionDenied)

	p, err := f.svc.ApproveEditSuggestion(ctx, idH221, out.SuggestionID)
	require.NoError(t, err)
	require.Equal(t, "عنيزة", *p.BirthPlace)
	require.Equal(t, 2, p.Version)

	sug := f.suggestion(t, out.SuggestionID)
	require.Equal(t, store.SuggestionApproved, sug.Status)
	require.Equal(t, idH221, *sug.ReviewedBy)

	entry := f.auditEntry(t, f.lastLogID(t, idH22))
	meta, err := audit.DecodeMetadata(entry.Metadata)
	require.NoError(t, err)
	require.Equal(t, out.SuggestionID, meta.SuggestionID)
	require.Equal(t, idH221, entry.ActorID)

	_, err = f.svc.ApproveEditSuggestion(ctx, idH221, out.SuggestionID)
	requireCode(t, err, CodeConflict)
}

func TestStaleSuggestionIsRejectedOnApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.SubmitEditSuggestion(ctx, idMod, SuggestionInput{ProfileID: idH22, Field: "bio", NewValue: raw(t, "قديم")})
	require.NoError(t, err)
	_, err = f.svc.UpdateProfile(ctx, idAdmin, idH22, 1, Patch{"bio": raw(t, "جديد")})
	require.NoError(t, err)
	before := f.profile(t, idH22)

	_, err = f.svc.ApproveEditSuggestion(ctx, idAdmin, out.SuggestionID)
	de := requireCode(t, err, CodeVersionConflict)
	require.Equal(t, staleSuggestionNote, de.Message)

	require.Equal(t, before, f.profile(t, idH22))
	sug := f.suggestion(t, out.SuggestionID)
	require.Equal(t, store.SuggestionRejected, sug.Status)
	require.Equal(t, staleSuggestionNote, *sug.ReviewNote)
}

func TestRejectSuggestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.SubmitEditSuggestion(ctx, idMod, SuggestionInput{ProfileID: idH22, Field: "kunya", NewValue: raw(t, "أبو محمد")})
	require.NoError(t, err)

	sug, err := f.svc.RejectEditSuggestion(ctx, idAdmin, out.SuggestionID, " غير صحيح ")
	require.NoError(t, err)
	require.Equal(t, store.SuggestionRejected, sug.Status)
	require.Equal(t, "غير صحيح", *sug.ReviewNote)

	pending, err := f.svc.ListPendingSuggestions(ctx, idAdmin, idH22)
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Nil(t, f.profile(t, idH22).Kunya)
}

func TestSuggestionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitEditSuggestion(ctx, idMod, SuggestionInput{ProfileID: idH22, Field: "gender", NewValue: raw(t, "female")})
	de := requireCode(t, err, CodeFieldNotWhitelisted)
	require.Equal(t, 400, de.Status)

	_, err = f.svc.SubmitEditSuggestion(ctx, idMod, SuggestionInput{ProfileID: idH22, Field: "email", NewValue: raw(t, "nope")})
	requireCode(t, err, CodeInvalidInput)

	_, err = f.svc.SubmitEditSuggestion(ctx, idMod, SuggestionInput{ProfileID: "", Field: "bio"})
	requireCode(t, err, CodeInvalidInput)

	_, err = f.svc.SubmitEditSuggestion(ctx, idMod, SuggestionInput{ProfileID: "p-missing", Field: "bio", NewValue: raw(t, "x")})
	requireCode(t, err, CodeNotFound)

	_, err = f.svc.BlockSuggestions(ctx, idAdmin, idMod, "")
	require.NoError(t, err)
	_, err = f.svc.SubmitEditSuggestion(ctx, idMod, SuggestionInput{ProfileID: idH22, Field: "bio", NewValue: raw(t, "x")})
	requireCode(t, err, CodePermissionDenied)
}

func TestSuggestionRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.SubmitEditSuggestion(ctx, idMod, SuggestionInput{ProfileID: idH22, Field: "bio", NewValue: raw(t, "x")})
		require.NoError(t, err)
	}
	_, err := f.svc.SubmitEditSuggestion(ctx, idMod, SuggestionInput{ProfileID: idH22, Field: "bio", NewValue: raw(t, "x")})
	de := requireCode(t, err, CodeRateLimitExceeded)
	require.Equal(t, 429, de.Status)
	require.Equal(t, int64(3), de.Details.(map[string]any)["limit"])

	// Direct edits are not throttled.
	_, err = f.svc.SubmitEditSuggestion(ctx, idH221, SuggestionInput{ProfileID: idH22, Field: "bio", NewValue: raw(t, "y")})
	require.NoError(t, err)
}
