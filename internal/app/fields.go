package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"alqefari/api/internal/store"
)

var validate = validator.New()

// updatableFields may be written through UpdateProfile.
var updatableFields = map[string]bool{
	"name":               true,
	"kunya":              true,
	"nickname":           true,
	"gender":             true,
	"status":             true,
	"mother_id":          true,
	"family_origin":      true,
	"bio":                true,
	"occupation":         true,
	"education":          true,
	"birth_place":        true,
	"current_residence":  true,
	"phone":              true,
	"email":              true,
	"photo_url":          true,
	"social_media_links": true,
	"dob_data":           true,
	"dod_data":           true,
}

// suggestableFields may be proposed by relatives without edit rights.
var suggestableFields = func() map[string]bool {
	out := make(map[string]bool, len(updatableFields))
	for f := range updatableFields {
		if f != "mother_id" && f != "gender" {
			out[f] = true
		}
	}
	return out
}()

// lineageFields change somebody's ancestry chain.
var lineageFields = map[string]bool{"name": true, "gender": true, "mother_id": true}

func lineageAffected(fields []string) bool {
	for _, f := range fields {
		if lineageFields[f] {
			return true
		}
	}
	return false
}

// Patch is a sparse set of field values keyed by snapshot field name.
type Patch map[string]json.RawMessage

// whitelisted keeps the updatable keys. Unknown keys are dropped.
func (p Patch) whitelisted() (Patch, error) {
	out := Patch{}
	for k, v := range p {
		if updatableFields[k] {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil, invalidInput("patch has no updatable field")
	}
	return out, nil
}

func (p Patch) keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// optionalText decodes a nullable string; blank collapses to nil.
func optionalText(field string, raw json.RawMessage, rule string) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%s must be a string or null", field)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if rule != "" {
		if err := validate.Var(v, rule); err != nil {
			return nil, fmt.Errorf("%s fails %s", field, rule)
		}
	}
	return &v, nil
}

func requiredText(field string, raw json.RawMessage, oneOf ...string) (string, error) {
	var v string
	if isNull(raw) || json.Unmarshal(raw, &v) != nil || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s must be a non-empty string", field)
	}
	v = strings.TrimSpace(v)
	if len(oneOf) > 0 {
		for _, allowed := range oneOf {
			if v == allowed {
				return v, nil
			}
		}
		return "", fmt.Errorf("%s must be one of %s", field, strings.Join(oneOf, ", "))
	}
	return v, nil
}

// validDualDate accepts null or an object carrying a gregorian or hijri
// date object.
func validDualDate(raw json.RawMessage) bool {
	if isNull(raw) {
		return true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	found := false
	for _, key := range []string{"gregorian", "hijri"} {
		v, ok := obj[key]
		if !ok || isNull(v) {
			continue
		}
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(v, &inner); err != nil {
			return false
		}
		found = true
	}
	return found
}

func jsonObjectOrNull(raw json.RawMessage) bool {
	if isNull(raw) {
		return true
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil
}

func compactJSON(raw json.RawMessage) json.RawMessage {
	if isNull(raw) {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// applyProfileField validates raw and writes it into p. It is shared by
// updates, suggestions and undo restores so all three accept the same values.
func applyProfileField(p *store.Profile, field string, raw json.RawMessage) error {
	var err error
	switch field {
	case "name":
		p.Name, err = requiredText(field, raw)
	case "gender":
		p.Gender, err = requiredText(field, raw, store.GenderMale, store.GenderFemale)
	case "status":
		p.Status, err = requiredText(field, raw, store.StatusAlive, store.StatusDeceased)
	case "mother_id":
		p.MotherID, err = optionalText(field, raw, "max=64")
	case "family_origin":
		p.FamilyOrigin, err = optionalText(field, raw, "max=200")
	case "kunya":
		p.Kunya, err = optionalText(field, raw, "max=200")
	case "nickname":
		p.Nickname, err = optionalText(field, raw, "max=200")
	case "bio":
		p.Bio, err = optionalText(field, raw, "max=5000")
	case "occupation":
		p.Occupation, err = optionalText(field, raw, "max=200")
	case "education":
		p.Education, err = optionalText(field, raw, "max=200")
	case "birth_place":
		p.BirthPlace, err = optionalText(field, raw, "max=200")
	case "current_residence":
		p.CurrentResidence, err = optionalText(field, raw, "max=200")
	case "phone":
		p.Phone, err = optionalText(field, raw, "max=32")
	case "email":
		p.Email, err = optionalText(field, raw, "email")
	case "photo_url":
		p.PhotoURL, err = optionalText(field, raw, "url")
	case "social_media_links":
		if !jsonObjectOrNull(raw) {
			return fmt.Errorf("%s must be an object or null", field)
		}
		p.SocialMediaLinks = compactJSON(raw)
	case "dob_data", "dod_data":
		if !validDualDate(raw) {
			return fmt.Errorf("%s must hold a gregorian or hijri date", field)
		}
		if field == "dob_data" {
			p.DobData = compactJSON(raw)
		} else {
			p.DodData = compactJSON(raw)
		}
	default:
		return fmt.Errorf("field %s cannot be written", field)
	}
	return err
}

// marriageFields may be written through UpdateMarriage.
var marriageFields = map[string]bool{
	"status":     true,
	"start_date": true,
	"end_date":   true,
	"munasib":    true,
}

// normalizeMarriageStatus maps legacy status values onto current|past.
func normalizeMarriageStatus(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", store.MarriageCurrent, "married":
		return store.MarriageCurrent, true
	case store.MarriagePast, "divorced", "widowed":
		return store.MarriagePast, true
	default:
		return "", false
	}
}

func applyMarriageField(m *store.Marriage, field string, raw json.RawMessage) error {
	var err error
	switch field {
	case "status":
		var v string
		if isNull(raw) || json.Unmarshal(raw, &v) != nil {
			return fmt.Errorf("status must be a string")
		}
		status, ok := normalizeMarriageStatus(v)
		if !ok {
			return fmt.Errorf("status must be current or past")
		}
		m.Status = status
	case "start_date":
		m.StartDate, err = optionalText(field, raw, "datetime=2006-01-02")
	case "end_date":
		m.EndDate, err = optionalText(field, raw, "datetime=2006-01-02")
	case "munasib":
		m.Munasib, err = optionalText(field, raw, "max=200")
	default:
		return fmt.Errorf("field %s cannot be written", field)
	}
	return err
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, lowerFirst(fe.Field())+" fails "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
