package models

// Participant is an occupant of the signaling room. The ID is the occupant's
// channel address, stable only for the lifetime of the underlying connection.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AddParticipant appends p to the list unless an entry with the same id is
// already present. Order of existing entries is preserved.
func AddParticipant(list []Participant, p Participant) []Participant {
	if containsParticipant(list, p.ID) {
		return list
	}
	return append(list, p)
}

// RemoveParticipant removes the entry with the given id, if present.
func RemoveParticipant(list []Participant, id string) []Participant {
	for i, p := range list {
		if p.ID == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// MoveParticipant upserts p into dst and removes its id from other, so an id
// never lives in both lists at once. Applying it twice leaves both lists as
// after the first application.
func MoveParticipant(dst, other []Participant, p Participant) ([]Participant, []Participant) {
	other = RemoveParticipant(other, p.ID)
	dst = AddParticipant(dst, p)
	return dst, other
}
