package ws

// Subscriber abstracts a streaming observer connection.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Registry tracks observer group membership: a single fleet-wide group plus
// one group per agent. All mutation and fan-out runs on a single goroutine,
// so every subscriber sees events in publication order.
type Registry struct {
	fleet     map[Subscriber]struct{}
	agents    map[int64]map[Subscriber]struct{}
	join      chan joinRequest
	leave     chan Subscriber
	broadcast chan message
	counts    chan chan Counts
}

type joinRequest struct {
	client  Subscriber
	agentID int64
	fleet   bool
}

type message struct {
	agentID int64
	fleet   bool
	payload []byte
}

// Counts reports current membership, mainly for health payloads and tests.
type Counts struct {
	Fleet       int
	AgentGroups int
}

// NewRegistry creates an initialized Registry and starts its dispatch loop.
func NewRegistry() *Registry {
	r := &Registry{
		fleet:     make(map[Subscriber]struct{}),
		agents:    make(map[int64]map[Subscriber]struct{}),
		join:      make(chan joinRequest),
		leave:     make(chan Subscriber),
		broadcast: make(chan message),
		counts:    make(chan chan Counts),
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	for {
		select {
		case req := <-r.join:
			if req.fleet {
				r.fleet[req.client] = struct{}{}
				continue
			}
			group, ok := r.agents[req.agentID]
			if !ok {
				group = make(map[Subscriber]struct{})
				r.agents[req.agentID] = group
			}
			group[req.client] = struct{}{}
		case client := <-r.leave:
			delete(r.fleet, client)
			for agentID, group := range r.agents {
				delete(group, client)
				if len(group) == 0 {
					delete(r.agents, agentID)
				}
			}
		case msg := <-r.broadcast:
			if msg.fleet {
				r.send(r.fleet, msg.payload)
				continue
			}
			if group, ok := r.agents[msg.agentID]; ok {
				r.send(group, msg.payload)
				if len(group) == 0 {
					delete(r.agents, msg.agentID)
				}
			}
		case reply := <-r.counts:
			reply <- Counts{Fleet: len(r.fleet), AgentGroups: len(r.agents)}
		}
	}
}

// send delivers to every member of a group, evicting members whose
// connection is gone. A failed send is dropped, never retried.
func (r *Registry) send(group map[Subscriber]struct{}, payload []byte) {
	for c := range group {
		if err := c.Send(payload); err != nil {
			c.Close()
			delete(group, c)
			delete(r.fleet, c)
		}
	}
}

// JoinFleet adds a connection to the fleet-wide group.
func (r *Registry) JoinFleet(client Subscriber) {
	r.join <- joinRequest{client: client, fleet: true}
}

// JoinAgent adds a connection to one agent's group.
func (r *Registry) JoinAgent(client Subscriber, agentID int64) {
	r.join <- joinRequest{client: client, agentID: agentID}
}

// Leave removes a connection from the fleet group and every agent group.
// Leaving is idempotent.
func (r *Registry) Leave(client Subscriber) {
	r.leave <- client
}

// BroadcastFleet sends payload to every fleet-group member.
func (r *Registry) BroadcastFleet(payload []byte) {
	r.broadcast <- message{fleet: true, payload: payload}
}

// BroadcastAgent sends payload to every member of the agent's group.
func (r *Registry) BroadcastAgent(agentID int64, payload []byte) {
	r.broadcast <- message{agentID: agentID, payload: payload}
}

// MemberCounts returns a snapshot of current membership.
func (r *Registry) MemberCounts() Counts {
	reply := make(chan Counts, 1)
	r.counts <- reply
	return <-reply
}
