package famsync

import (
	"encoding/json"
	"fmt"
)

// Field names the patchable parts of a FamilyInfo.
type Field string

const (
	FieldDisplayName Field = "displayName"
	FieldMembers     Field = "members"
	FieldCarpools    Field = "carpools"
)

// Valid reports whether the field is one of the three patchable fields.
func (f Field) Valid() bool {
	switch f {
	case FieldDisplayName, FieldMembers, FieldCarpools:
		return true
	}
	return false
}

// FieldValue is one typed patch value. The set of implementations is closed:
// DisplayNameValue, MembersValue and CarpoolsValue.
type FieldValue interface {
	fieldValue()
}

type DisplayNameValue string

type MembersValue map[string]MemberRecord

type CarpoolsValue map[string]CarpoolRecord

func (DisplayNameValue) fieldValue() {}
func (MembersValue) fieldValue()     {}
func (CarpoolsValue) fieldValue()    {}

// FieldPatch is a partial-field update request against the family value.
type FieldPatch map[Field]FieldValue

// Validate checks that every key is a recognized field and that each value has
// the shape the field expects. Unknown keys or mismatched shapes are caller
// errors.
func (p FieldPatch) Validate() error {
	for field, value := range p {
		if !field.Valid() {
			return fmt.Errorf("unknown patch field %q", string(field))
		}
		switch field {
		case FieldDisplayName:
			if _, ok := value.(DisplayNameValue); !ok {
				return fmt.Errorf("patch field %q expects a display name", string(field))
			}
		case FieldMembers:
			mv, ok := value.(MembersValue)
			if !ok {
				return fmt.Errorf("patch field %q expects member records", string(field))
			}
			for id, m := range mv {
				if !m.Role.Valid() {
					return fmt.Errorf("member %q has unknown role %q", id, string(m.Role))
				}
			}
		case FieldCarpools:
			if _, ok := value.(CarpoolsValue); !ok {
				return fmt.Errorf("patch field %q expects carpool records", string(field))
			}
		}
	}
	return nil
}

// ParsePatch lifts an untyped, string-keyed patch (as it arrives off the wire)
// into a typed FieldPatch. Unknown fields and mismatched value shapes are
// rejected with a decoding StorageError.
func ParsePatch(raw map[string]any) (FieldPatch, error) {
	patch := make(FieldPatch, len(raw))
	for name, value := range raw {
		field := Field(name)
		if !field.Valid() {
			return nil, StorageError{Kind: ErrorKindDecoding, Cause: fmt.Errorf("unknown patch field %q", name)}
		}
		switch field {
		case FieldDisplayName:
			s, ok := value.(string)
			if !ok {
				return nil, StorageError{Kind: ErrorKindDecoding, Cause: fmt.Errorf("field %q expects a string", name)}
			}
			patch[field] = DisplayNameValue(s)
		case FieldMembers:
			var members map[string]MemberRecord
			if err := reshape(value, &members); err != nil {
				return nil, StorageError{Kind: ErrorKindDecoding, Cause: err}
			}
			patch[field] = MembersValue(members)
		case FieldCarpools:
			var carpools map[string]CarpoolRecord
			if err := reshape(value, &carpools); err != nil {
				return nil, StorageError{Kind: ErrorKindDecoding, Cause: err}
			}
			patch[field] = CarpoolsValue(carpools)
		}
	}
	if err := patch.Validate(); err != nil {
		return nil, StorageError{Kind: ErrorKindDecoding, Cause: err}
	}
	return patch, nil
}

// reshape coerces a decoded-JSON value into the target shape via a marshal
// round trip.
func reshape(value any, target any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, target)
}

// Flatten converts the typed patch into the string-keyed form the storage
// contract speaks. The key set is preserved exactly.
func (p FieldPatch) Flatten() map[string]any {
	out := make(map[string]any, len(p))
	for field, value := range p {
		switch v := value.(type) {
		case DisplayNameValue:
			out[string(field)] = string(v)
		case MembersValue:
			out[string(field)] = map[string]MemberRecord(v)
		case CarpoolsValue:
			out[string(field)] = map[string]CarpoolRecord(v)
		}
	}
	return out
}
