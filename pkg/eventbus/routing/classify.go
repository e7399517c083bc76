// Package routing classifies events into processing lanes.
//
// Every event gets a routing Mode (EVENT, ROUND, or PRIORITY_QUEUE) that
// decides which lane processes it, and an orthogonal Modality (DIRECTIVE,
// INQUIRY, KNOWLEDGE, or EVENT) describing its semantic intent. A
// hot-reloadable override table loaded from the config store is consulted
// first; the hardcoded classifier is the fallback.
package routing

import "strings"

// Mode is the processing lane for an event.
type Mode string

// Routing modes.
const (
	ModeEvent         Mode = "EVENT"
	ModeRound         Mode = "ROUND"
	ModePriorityQueue Mode = "PRIORITY_QUEUE"
)

// ParseMode normalizes a mode string. Unknown values are rejected.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToUpper(s)) {
	case ModeEvent:
		return ModeEvent, true
	case ModeRound:
		return ModeRound, true
	case ModePriorityQueue:
		return ModePriorityQueue, true
	}
	return "", false
}

// Modality is the semantic intent of an event, independent of its
// routing mode.
type Modality string

// Modalities.
const (
	ModalityDirective Modality = "DIRECTIVE"
	ModalityInquiry   Modality = "INQUIRY"
	ModalityKnowledge Modality = "KNOWLEDGE"
	ModalityEvent     Modality = "EVENT"
)

// parseModality normalizes an explicit modality hint.
func parseModality(s string) (Modality, bool) {
	switch Modality(strings.ToUpper(s)) {
	case ModalityDirective:
		return ModalityDirective, true
	case ModalityInquiry:
		return ModalityInquiry, true
	case ModalityKnowledge:
		return ModalityKnowledge, true
	case ModalityEvent:
		return ModalityEvent, true
	}
	return "", false
}

// governanceTypes always route through the priority lane and are always
// persisted, even when the producer requested fire-and-forget delivery.
var governanceTypes = map[string]bool{
	"guardrail.violated": true,
	"guardrail.breached": true,
	"policy.violated":    true,
	"compliance.breach":  true,
	"chairman.override":  true,
}

// governancePrefixes extend the governance set to whole namespaces.
var governancePrefixes = []string{"governance.", "guardrail."}

// IsGovernance reports whether the event type belongs to the governance
// set.
func IsGovernance(eventType string) bool {
	if governanceTypes[eventType] {
		return true
	}
	for _, prefix := range governancePrefixes {
		if strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}

// roundPrefixes force the ROUND lane.
var roundPrefixes = []string{"round.", "cadence."}

// ClassifyMode assigns the routing mode for an event using the hardcoded
// default rules. Governance types and payloads marked priority=critical
// or urgent=true go to PRIORITY_QUEUE; round/cadence types go to ROUND;
// everything else is a plain EVENT.
func ClassifyMode(eventType string, payload map[string]any) Mode {
	if IsGovernance(eventType) {
		return ModePriorityQueue
	}
	if priority, ok := payload["priority"].(string); ok {
		switch strings.ToLower(priority) {
		case "critical", "urgent":
			return ModePriorityQueue
		}
	}
	if urgent, ok := payload["urgent"].(bool); ok && urgent {
		return ModePriorityQueue
	}

	for _, prefix := range roundPrefixes {
		if strings.HasPrefix(eventType, prefix) {
			return ModeRound
		}
	}
	if mode, ok := payload["routingMode"].(string); ok {
		if m, valid := ParseMode(mode); valid && m == ModeRound {
			return ModeRound
		}
	}

	return ModeEvent
}

// directivePrefixes signal command intent.
var directivePrefixes = []string{"governance.", "guardrail.", "chairman.", "command.", "directive."}

// inquirySuffixes and knowledgeSuffixes drive the type-suffix heuristics.
var (
	inquirySuffixes   = []string{"query", "check", "status"}
	knowledgeSuffixes = []string{"scored", "completed", "published"}
)

// ClassifyModality assigns the semantic modality for an event: explicit
// payload hints win, then governance/command prefixes, then type-suffix
// heuristics.
func ClassifyModality(eventType string, payload map[string]any) Modality {
	if hint, ok := payload["modality"].(string); ok {
		if m, valid := parseModality(hint); valid {
			return m
		}
	}

	for _, prefix := range directivePrefixes {
		if strings.HasPrefix(eventType, prefix) {
			return ModalityDirective
		}
	}
	if governanceTypes[eventType] {
		return ModalityDirective
	}

	for _, suffix := range inquirySuffixes {
		if strings.HasSuffix(eventType, suffix) {
			return ModalityInquiry
		}
	}
	for _, suffix := range knowledgeSuffixes {
		if strings.HasSuffix(eventType, suffix) {
			return ModalityKnowledge
		}
	}

	return ModalityEvent
}
