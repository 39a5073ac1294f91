package identity

import (
	"sync"
	"time"

	"github.com/plateful-app/plateful/internal/bus"
	"github.com/plateful-app/plateful/internal/model"
)

// Provider supplies the authenticated-user handle. An empty user id means
// signed out. Subscribe registers for changes and returns an unsubscribe
// func; the callback receives the new user id ("" on sign-out).
type Provider interface {
	CurrentUserID() string
	CurrentUser() (model.Author, bool)
	Subscribe(fn func(userID string)) (unsubscribe func())
}

// Local is an in-process identity provider driven by explicit SignIn and
// SignOut calls (the daemon's session API). It stands in for the managed
// auth backend the mobile app talks to.
type Local struct {
	mu       sync.RWMutex
	user     model.Author
	signedIn bool
	subs     map[int]func(string)
	nextID   int
	bus      *bus.Bus
}

// NewLocal creates a signed-out provider. The bus may be nil in tests.
func NewLocal(b *bus.Bus) *Local {
	return &Local{
		subs: make(map[int]func(string)),
		bus:  b,
	}
}

// CurrentUserID returns the signed-in user id, or "" when signed out.
func (l *Local) CurrentUserID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.signedIn {
		return ""
	}
	return l.user.ID
}

// CurrentUser returns the signed-in author and whether anyone is signed in.
func (l *Local) CurrentUser() (model.Author, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.user, l.signedIn
}

// Subscribe registers for identity changes. The callback is invoked after
// every SignIn and SignOut, outside the provider's lock.
func (l *Local) Subscribe(fn func(userID string)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

// SignIn sets the current user and notifies subscribers. Signing in while
// already signed in as someone else behaves as a user switch.
func (l *Local) SignIn(user model.Author) {
	l.mu.Lock()
	l.user = user
	l.signedIn = true
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish(bus.Event{Kind: "identity.signed_in", Timestamp: time.Now(), Payload: user})
	}
	l.notify(user.ID)
}

// SignOut clears the current user and notifies subscribers with "".
func (l *Local) SignOut() {
	l.mu.Lock()
	l.user = model.Author{}
	l.signedIn = false
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish(bus.Event{Kind: "identity.signed_out", Timestamp: time.Now()})
	}
	l.notify("")
}

func (l *Local) notify(userID string) {
	l.mu.RLock()
	fns := make([]func(string), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(userID)
	}
}
