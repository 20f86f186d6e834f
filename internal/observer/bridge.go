package observer

import "fmt"

// BridgeObserver adapts a Hub to the orchestrator's Observer interface,
// so a live run's prompt/policy events reach connected dashboards
// without waiting on the execution log's poll interval. It never reads
// from the orchestrator and never returns anything it produces back
// into the run; it is a one-way tap.
type BridgeObserver struct {
	hub   *Hub
	phase string
}

// NewBridgeObserver returns an Observer that forwards to hub, tagging
// every message with phase.
func NewBridgeObserver(hub *Hub, phase string) *BridgeObserver {
	return &BridgeObserver{hub: hub, phase: phase}
}

func (b *BridgeObserver) OnAutoAnswer(prompt, response string) {
	b.hub.Broadcast(Message{Type: "auto_answer", Phase: b.phase, Payload: fmt.Sprintf("%s -> %s", prompt, response)})
}

func (b *BridgeObserver) OnEscalate(prompt string) {
	b.hub.Broadcast(Message{Type: "escalate", Phase: b.phase, Payload: prompt})
}

func (b *BridgeObserver) OnSuggest(prompt, response string) {
	b.hub.Broadcast(Message{Type: "suggest", Phase: b.phase, Payload: fmt.Sprintf("%s -> %s", prompt, response)})
}

func (b *BridgeObserver) OnEvent(message string) {
	b.hub.Broadcast(Message{Type: "event", Phase: b.phase, Payload: message})
}
