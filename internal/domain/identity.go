package domain

// Identity is whoever owns the current session: an authenticated user or a guest.
// Only a user identity has a remote cart; guest state lives in the session store.
type Identity struct {
	UserID  string
	GuestID string
	Token   string
}

func Guest(guestID string) Identity {
	return Identity{GuestID: guestID}
}

func User(userID, token string) Identity {
	return Identity{UserID: userID, Token: token}
}

// IsKnown reports whether the identity is an authenticated user.
func (i Identity) IsKnown() bool {
	return i.UserID != ""
}

// Key identifies the session the identity owns.
func (i Identity) Key() string {
	if i.IsKnown() {
		return "user:" + i.UserID
	}
	return "guest:" + i.GuestID
}

// String representation (for logging)
func (i Identity) String() string {
	return i.Key()
}
