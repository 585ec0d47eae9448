package state

type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type User struct {
	ID    string
	Name  string
	Email string
}

type Auth struct {
	User   *User
	Token  string
	Status Status
	Error  string
}

// Auth actions.
type (
	LoginStarted   struct{}
	LoginSucceeded struct {
		User  User
		Token string
	}
	LoginFailed struct{ Error string }
	// TokenRestored installs a token read back from local storage.
	TokenRestored struct{ Token string }
	Logout        struct{}
)

func (LoginStarted) action()   {}
func (LoginSucceeded) action() {}
func (LoginFailed) action()    {}
func (TokenRestored) action()  {}
func (Logout) action()         {}

func ReduceAuth(s Auth, a Action) Auth {
	switch a := a.(type) {
	case LoginStarted:
		s.Status = StatusLoading
		s.Error = ""
	case LoginSucceeded:
		u := a.User
		s.User = &u
		s.Token = a.Token
		s.Status = StatusSucceeded
	case LoginFailed:
		s.Status = StatusFailed
		s.Error = a.Error
	case TokenRestored:
		s.Token = a.Token
	case Logout:
		s = Auth{Status: StatusIdle}
	}
	return s
}
