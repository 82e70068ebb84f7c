package store

import (
	"fmt"
	"strings"
)

// NormalizeOrigin folds case and whitespace the way the marriage trigger does.
func NormalizeOrigin(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ExpectedMunasib returns the munasib value a marriage between husband and
// wife must carry. ok is false when neither spouse belongs to the tree.
func ExpectedMunasib(husband, wife Profile) (value *string, ok bool) {
	switch {
	case !husband.IsMunasib() && !wife.IsMunasib():
		return nil, true
	case husband.IsMunasib() && wife.IsMunasib():
		return nil, false
	case husband.IsMunasib():
		return husband.FamilyOrigin, true
	default:
		return wife.FamilyOrigin, true
	}
}

// CheckMunasib enforces: both spouses with HID => munasib NULL; exactly one
// without HID => munasib equals that spouse's family_origin (normalized).
func CheckMunasib(husband, wife Profile, munasib *string) error {
	expected, ok := ExpectedMunasib(husband, wife)
	if !ok {
		return fmt.Errorf("%w: at least one spouse must belong to the tree", ErrMunasibViolation)
	}
	if expected == nil || strings.TrimSpace(*expected) == "" {
		if munasib != nil && strings.TrimSpace(*munasib) != "" {
			if !husband.IsMunasib() && !wife.IsMunasib() {
				return fmt.Errorf("%w: must be null when both spouses have an hid", ErrMunasibViolation)
			}
			return fmt.Errorf("%w: spouse has no family_origin", ErrMunasibViolation)
		}
		return nil
	}
	if munasib == nil || NormalizeOrigin(*munasib) != NormalizeOrigin(*expected) {
		return fmt.Errorf("%w: must equal %q", ErrMunasibViolation, *expected)
	}
	return nil
}
