package domain

import (
	"testing"

	"github.com/famkit/famsync"
)

func TestRegisterBindsKeyPreservingValue(t *testing.T) {
	st := &famsync.FamilyState{Key: "old", Value: famsync.FamilyInfo{DisplayName: "Smiths"}}

	next := ReduceFamily(st, famsync.Register{Key: "fam-42"})
	if next == nil || next.Key != "fam-42" {
		t.Fatalf("expected key fam-42, got %#v", next)
	}
	if next.Value.DisplayName != "Smiths" {
		t.Fatalf("expected value to be preserved, got %#v", next.Value)
	}
}

func TestRegisterWithoutStateCreatesEmptyValue(t *testing.T) {
	next := ReduceFamily(nil, famsync.Register{Key: "fam-1"})
	if next == nil || next.Key != "fam-1" {
		t.Fatalf("expected fresh state with key fam-1, got %#v", next)
	}
	if !next.Value.Equal(famsync.FamilyInfo{}) {
		t.Fatalf("expected empty value, got %#v", next.Value)
	}
}

func TestDeleteLeavesStateUntouched(t *testing.T) {
	st := &famsync.FamilyState{Key: "fam-42"}
	if next := ReduceFamily(st, famsync.Delete{}); next != st {
		t.Fatalf("expected Delete to leave state untouched, got %#v", next)
	}
}

func TestStateChangedClearsOnNil(t *testing.T) {
	st := &famsync.FamilyState{Key: "fam-42"}
	if next := ReduceFamily(st, famsync.StateChanged{State: nil}); next != nil {
		t.Fatalf("expected nil state, got %#v", next)
	}
}

func TestStateChangedCopiesValue(t *testing.T) {
	incoming := &famsync.FamilyState{
		Key: "fam-42",
		Value: famsync.FamilyInfo{
			DisplayName: "Smiths",
			Members:     map[string]famsync.MemberRecord{"u1": {Role: famsync.RoleGuardian}},
		},
	}

	next := ReduceFamily(nil, famsync.StateChanged{State: incoming})
	if next == nil {
		t.Fatalf("expected state")
	}

	incoming.Value.Members["u2"] = famsync.MemberRecord{Role: famsync.RoleChild}
	if len(next.Value.Members) != 1 {
		t.Fatalf("expected reduced state to hold its own copy, got %v", next.Value.Members)
	}
}
