package nda

// Field names an opportunity attribute as it appears in response payloads.
type Field string

const (
	FieldID                   Field = "id"
	FieldTitle                Field = "title"
	FieldDescription          Field = "description"
	FieldSector               Field = "sector"
	FieldLocation             Field = "location"
	FieldLatitude             Field = "latitude"
	FieldLongitude            Field = "longitude"
	FieldBudgetRequired       Field = "budget_required"
	FieldExpectedROI          Field = "expected_roi"
	FieldStatus               Field = "status"
	FieldOwnerID              Field = "owner_id"
	FieldIsProtected          Field = "is_protected"
	FieldFingerprintHash      Field = "fingerprint_hash"
	FieldFingerprintTimestamp Field = "fingerprint_timestamp"
	FieldFingerprintVersion   Field = "fingerprint_version"
	FieldLikesCount           Field = "likes_count"
	FieldDislikesCount        Field = "dislikes_count"
	FieldCommentsCount        Field = "comments_count"
	FieldCommunityAcceptance  Field = "community_acceptance"
	FieldCreatedAt            Field = "created_at"
	FieldUpdatedAt            Field = "updated_at"
	FieldNDAAccepted          Field = "nda_accepted"
	FieldDescriptionPreview   Field = "description_preview"
)

// publicFields may be shown to anyone. Every field not listed here is
// protected, including fields added later.
var publicFields = map[Field]bool{
	FieldID:                   true,
	FieldTitle:                true,
	FieldSector:               true,
	FieldLocation:             true,
	FieldLatitude:             true,
	FieldLongitude:            true,
	FieldBudgetRequired:       true,
	FieldExpectedROI:          true,
	FieldStatus:               true,
	FieldOwnerID:              true,
	FieldIsProtected:          true,
	FieldFingerprintTimestamp: true,
	FieldLikesCount:           true,
	FieldDislikesCount:        true,
	FieldCommentsCount:        true,
	FieldCommunityAcceptance:  true,
	FieldCreatedAt:            true,
	FieldUpdatedAt:            true,
	FieldNDAAccepted:          true,
}

// IsPublic reports whether f is on the public allowlist.
func IsPublic(f Field) bool { return publicFields[f] }

// PreviewRunes caps the description teaser shown before an NDA.
const PreviewRunes = 100

// Preview returns a strict prefix of s followed by "...": at most PreviewRunes
// runes and never more than half of s. ok is false when s is too short to
// yield any prefix, in which case no teaser may be shown.
func Preview(s string) (preview string, ok bool) {
	runes := []rune(s)
	n := min(PreviewRunes, len(runes)/2)
	if n == 0 {
		return "", false
	}
	return string(runes[:n]) + "...", true
}
