package famsync

// Role is the position a member holds within a family.
type Role string

const (
	RoleGuardian  Role = "guardian"
	RoleChild     Role = "child"
	RoleCaregiver Role = "caregiver"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleGuardian, RoleChild, RoleCaregiver:
		return true
	}
	return false
}

// MemberRecord describes one member of a family.
type MemberRecord struct {
	Role Role `json:"role"`
}

// CarpoolRecord describes the family's relation to one carpool.
type CarpoolRecord struct {
	Participant bool `json:"participant"`
}

// FamilyInfo is the synchronized family value. It is treated as an immutable
// value; mutate by building a new one.
type FamilyInfo struct {
	DisplayName string                   `json:"displayName"`
	Members     map[string]MemberRecord  `json:"members,omitempty"`
	Carpools    map[string]CarpoolRecord `json:"carpools,omitempty"`
}

// Equal compares two FamilyInfo values structurally.
func (i FamilyInfo) Equal(other FamilyInfo) bool {
	if i.DisplayName != other.DisplayName {
		return false
	}
	if len(i.Members) != len(other.Members) || len(i.Carpools) != len(other.Carpools) {
		return false
	}
	for id, m := range i.Members {
		if got, ok := other.Members[id]; !ok || got != m {
			return false
		}
	}
	for id, cp := range i.Carpools {
		if got, ok := other.Carpools[id]; !ok || got != cp {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the info.
func (i FamilyInfo) Clone() FamilyInfo {
	out := FamilyInfo{DisplayName: i.DisplayName}
	if i.Members != nil {
		out.Members = make(map[string]MemberRecord, len(i.Members))
		for id, m := range i.Members {
			out.Members[id] = m
		}
	}
	if i.Carpools != nil {
		out.Carpools = make(map[string]CarpoolRecord, len(i.Carpools))
		for id, cp := range i.Carpools {
			out.Carpools[id] = cp
		}
	}
	return out
}

// FamilyState is the container-level view of the registered family. Absence of
// a family is represented as a nil *FamilyState, not as a field in here.
type FamilyState struct {
	Key   string     `json:"key"`
	Value FamilyInfo `json:"value"`
}

// ChangeEvent is one element of the storage change stream. A nil State with a
// nil Err means the family was removed on the backend side; Key still names
// the family the event is about.
type ChangeEvent struct {
	Key   string       `json:"key,omitempty"`
	State *FamilyState `json:"state,omitempty"`
	Err   error        `json:"-"`
}
