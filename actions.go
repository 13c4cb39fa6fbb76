package famsync

// Action is the closed set of intents and events flowing between the container
// and the synchronization layer. Exactly one variant is active per instance;
// payloads are extracted by type switching.
type Action interface {
	action()
}

// Create requests a new family with the initiating user as guardian.
type Create struct {
	DisplayName      string
	InitiatingUserID string
}

// Delete requests removal of the currently registered family.
type Delete struct{}

// Update requests a partial-field patch of the family value.
type Update struct {
	Patch FieldPatch
}

// Register binds the container to an existing family key. It doubles as the
// outbound acknowledgment carrying a newly created key.
type Register struct {
	Key string
}

// StateChanged notifies the container that the backend's view of the family
// changed. Outbound only.
type StateChanged struct {
	State *FamilyState
}

func (Create) action()       {}
func (Delete) action()       {}
func (Update) action()       {}
func (Register) action()     {}
func (StateChanged) action() {}
