// ABOUTME: Participants of a conversation: the human and the agents
// ABOUTME: Looked up by name, filtered by kind where the caller needs an agent

package conversation

import "github.com/2389/parley-gateway/internal/tools"

// HumanName is the name of the single human participant in every conversation.
const HumanName = "human"

// Kind tags a participant variant.
type Kind int

const (
	KindHuman Kind = iota
	KindAgent
)

func (k Kind) String() string {
	if k == KindHuman {
		return "human"
	}
	return "agent"
}

// Participant is a named member of a conversation.
type Participant interface {
	Name() string
	Kind() Kind
}

// Human is the remote person reached over the conversation's connection.
type Human struct {
	name string
}

// NewHuman creates a human participant.
func NewHuman(name string) *Human { return &Human{name: name} }

func (h *Human) Name() string { return h.name }
func (h *Human) Kind() Kind   { return KindHuman }

// Agent is a server-side participant driven by the conversation's Advancer.
type Agent struct {
	name   string
	prompt string
	tools  []*tools.Tool
}

// NewAgent creates an agent with a prompt and the tools it may invoke.
func NewAgent(name, prompt string, agentTools []*tools.Tool) *Agent {
	return &Agent{name: name, prompt: prompt, tools: agentTools}
}

func (a *Agent) Name() string { return a.name }
func (a *Agent) Kind() Kind   { return KindAgent }

// Prompt returns the agent's system prompt.
func (a *Agent) Prompt() string { return a.prompt }

// Tools returns the agent's tools.
func (a *Agent) Tools() []*tools.Tool { return a.tools }

// Tool returns the agent's tool with the given name.
func (a *Agent) Tool(name string) (*tools.Tool, bool) {
	for _, t := range a.tools {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// findParticipant returns the participant with the given name.
func findParticipant(participants []Participant, name string) (Participant, bool) {
	for _, p := range participants {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// findAgent returns the agent with the given name.
func findAgent(participants []Participant, name string) (*Agent, bool) {
	p, ok := findParticipant(participants, name)
	if !ok {
		return nil, false
	}
	a, ok := p.(*Agent)
	return a, ok
}
