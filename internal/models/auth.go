package models

// AuthContext is the already-verified identity of the caller.
type AuthContext struct {
	SubjectID string
	Role      string
}

func (a AuthContext) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a AuthContext) IsStylist() bool {
	return a.Role == RoleStylist
}

// Owns reports whether the caller is the client of the appointment.
func (a AuthContext) Owns(appt *Appointment) bool {
	return appt != nil && a.SubjectID != "" && appt.ClientID == a.SubjectID
}
