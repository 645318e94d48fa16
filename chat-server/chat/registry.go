package chat

import "github.com/samber/lo"

// Participant is one joined, named connection.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// Registry maps connection ids to participants. It is owned by the Router
// loop and is not safe for concurrent use.
type Registry struct {
	order []string
	byID  map[string]*Participant
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Participant)}
}

// Join inserts or overwrites the participant for id. An overwrite keeps the
// original position in List.
func (r *Registry) Join(id, username string) Participant {
	if p, ok := r.byID[id]; ok {
		p.Username = username
		return *p
	}
	p := &Participant{ID: id, Username: username}
	r.byID[id] = p
	r.order = append(r.order, id)
	return *p
}

// Leave removes id and returns the removed participant, if any.
func (r *Registry) Leave(id string) (Participant, bool) {
	p, ok := r.byID[id]
	if !ok {
		return Participant{}, false
	}
	delete(r.byID, id)
	r.order = lo.Without(r.order, id)
	return *p, true
}

func (r *Registry) Get(id string) (Participant, bool) {
	p, ok := r.byID[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// SetTyping updates the typing flag of a joined participant.
func (r *Registry) SetTyping(id string, typing bool) (Participant, bool) {
	p, ok := r.byID[id]
	if !ok {
		return Participant{}, false
	}
	p.IsTyping = typing
	return *p, true
}

// List returns a snapshot of all participants in join order.
func (r *Registry) List() []Participant {
	return lo.Map(r.order, func(id string, _ int) Participant {
		return *r.byID[id]
	})
}

func (r *Registry) Len() int { return len(r.order) }
