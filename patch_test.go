package famsync

import (
	"errors"
	"testing"
)

func TestFieldPatchValidate(t *testing.T) {
	patch := FieldPatch{
		FieldDisplayName: DisplayNameValue("Smiths"),
		FieldMembers:     MembersValue{"u1": {Role: RoleGuardian}},
		FieldCarpools:    CarpoolsValue{"cp-1": {Participant: true}},
	}
	if err := patch.Validate(); err != nil {
		t.Fatalf("expected valid patch, got %v", err)
	}

	bad := FieldPatch{Field("nickname"): DisplayNameValue("x")}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}

	mismatched := FieldPatch{FieldMembers: DisplayNameValue("x")}
	if err := mismatched.Validate(); err == nil {
		t.Fatalf("expected shape mismatch to be rejected")
	}

	badRole := FieldPatch{FieldMembers: MembersValue{"u1": {Role: Role("parent")}}}
	if err := badRole.Validate(); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestFieldPatchFlattenPreservesKeys(t *testing.T) {
	patch := FieldPatch{
		FieldDisplayName: DisplayNameValue("Smith-Jones"),
		FieldMembers:     MembersValue{"u1": {Role: RoleChild}},
	}

	flat := patch.Flatten()
	if len(flat) != 2 {
		t.Fatalf("expected 2 keys, got %v", flat)
	}
	if flat["displayName"] != "Smith-Jones" {
		t.Fatalf("expected displayName value, got %v", flat["displayName"])
	}
	members, ok := flat["members"].(map[string]MemberRecord)
	if !ok || members["u1"].Role != RoleChild {
		t.Fatalf("expected members map, got %v", flat["members"])
	}
}

func TestParsePatch(t *testing.T) {
	raw := map[string]any{
		"displayName": "Smiths",
		"members": map[string]any{
			"u1": map[string]any{"role": "guardian"},
		},
		"carpools": map[string]any{
			"cp-1": map[string]any{"participant": true},
		},
	}

	patch, err := ParsePatch(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if patch[FieldDisplayName] != DisplayNameValue("Smiths") {
		t.Fatalf("expected display name, got %v", patch[FieldDisplayName])
	}
	members := patch[FieldMembers].(MembersValue)
	if members["u1"].Role != RoleGuardian {
		t.Fatalf("expected guardian role, got %v", members)
	}
	carpools := patch[FieldCarpools].(CarpoolsValue)
	if !carpools["cp-1"].Participant {
		t.Fatalf("expected participant carpool, got %v", carpools)
	}
}

func TestParsePatchRejectsUnknownField(t *testing.T) {
	_, err := ParsePatch(map[string]any{"nickname": "x"})
	if !errors.Is(err, ErrDecoding) {
		t.Fatalf("expected decoding error, got %v", err)
	}
}

func TestParsePatchRejectsWrongShape(t *testing.T) {
	_, err := ParsePatch(map[string]any{"members": 42})
	if !errors.Is(err, ErrDecoding) {
		t.Fatalf("expected decoding error, got %v", err)
	}

	_, err = ParsePatch(map[string]any{"displayName": 42})
	if !errors.Is(err, ErrDecoding) {
		t.Fatalf("expected decoding error, got %v", err)
	}
}
