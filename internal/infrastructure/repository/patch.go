package repository

import (
	"encoding/json"
	"fmt"

	"github.com/famkit/famsync"
)

// patchDelta is the decoded form of a flattened field patch. Members and
// carpools are whole-field replacements; merge semantics stop here.
type patchDelta struct {
	displayName *string
	members     map[string]famsync.MemberRecord
	hasMembers  bool
	carpools    map[string]famsync.CarpoolRecord
	hasCarpools bool
}

func decodePatch(patch map[string]any) (patchDelta, error) {
	var delta patchDelta
	for name, value := range patch {
		switch famsync.Field(name) {
		case famsync.FieldDisplayName:
			s, ok := value.(string)
			if !ok {
				return delta, decodingError(fmt.Errorf("field %q expects a string, got %T", name, value))
			}
			delta.displayName = &s

		case famsync.FieldMembers:
			if typed, ok := value.(map[string]famsync.MemberRecord); ok {
				delta.members = typed
			} else if err := coerce(value, &delta.members); err != nil {
				return delta, decodingError(err)
			}
			for id, m := range delta.members {
				if !m.Role.Valid() {
					return delta, decodingError(fmt.Errorf("member %q has unknown role %q", id, m.Role))
				}
			}
			delta.hasMembers = true

		case famsync.FieldCarpools:
			if typed, ok := value.(map[string]famsync.CarpoolRecord); ok {
				delta.carpools = typed
			} else if err := coerce(value, &delta.carpools); err != nil {
				return delta, decodingError(err)
			}
			delta.hasCarpools = true

		default:
			return delta, decodingError(fmt.Errorf("unknown patch field %q", name))
		}
	}
	return delta, nil
}

// applyTo builds the post-patch view of the family value.
func (d patchDelta) applyTo(info famsync.FamilyInfo) famsync.FamilyInfo {
	out := info.Clone()
	if d.displayName != nil {
		out.DisplayName = *d.displayName
	}
	if d.hasMembers {
		out.Members = d.members
	}
	if d.hasCarpools {
		out.Carpools = d.carpools
	}
	return out
}

func coerce(value any, target any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, target)
}

func decodingError(err error) error {
	return famsync.StorageError{Kind: famsync.ErrorKindDecoding, Cause: err}
}
