package famsync

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestFamilyInfoEqual(t *testing.T) {
	a := FamilyInfo{
		DisplayName: "Smiths",
		Members:     map[string]MemberRecord{"u1": {Role: RoleGuardian}},
	}
	b := a.Clone()
	if !a.Equal(b) {
		t.Fatalf("expected clone to be equal")
	}

	b.Members["u2"] = MemberRecord{Role: RoleChild}
	if a.Equal(b) {
		t.Fatalf("expected inequality after member change")
	}
	if len(a.Members) != 1 {
		t.Fatalf("expected clone to be independent, got %v", a.Members)
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleGuardian, RoleChild, RoleCaregiver} {
		if !r.Valid() {
			t.Fatalf("expected %s to be valid", r)
		}
	}
	if Role("parent").Valid() {
		t.Fatalf("expected parent to be invalid")
	}
}

func TestStorageErrorMatching(t *testing.T) {
	cause := errors.New("row missing")
	err := StorageError{Kind: ErrorKindNotFound, Cause: cause}

	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected kind match")
	}
	if errors.Is(err, ErrDecoding) {
		t.Fatalf("expected kinds to be distinguished")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap")
	}

	wrapped := pkgerrors.Wrap(err, "load family")
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("expected match through wrapping")
	}
}
