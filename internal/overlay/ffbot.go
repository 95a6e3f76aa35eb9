package overlay

import (
	"encoding/json"
	"fmt"
)

// ffbotEnvelope is the shape an ffbot-sourced bus envelope payload decodes to
// before being rebuilt into a client-shaped payload. The ffbot handler puts
// the member id on the envelope, not in the payload, so Member is empty for
// its envelopes.
type ffbotEnvelope struct {
	Player    string          `json:"player"`
	Member    string          `json:"member"`
	Character string          `json:"character"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Stats     json.RawMessage `json:"data"`
}

// classifyFFBot applies the fixed sub-type payload builders. stats, hire,
// change and save have dedicated builders; any other non-empty sub-type gets
// the generic pass-through frame, and an empty sub-type yields no frame.
// Neither this function nor Classify logs the sub-type.
func classifyFFBot(in Incoming) []Frame {
	var env ffbotEnvelope
	_ = json.Unmarshal(in.Payload, &env) // malformed payload falls through to zero-value env

	frameType := fmt.Sprintf("ffbot:%s", in.FFBotType)

	switch in.FFBotType {
	case "stats":
		return []Frame{{Type: frameType, Payload: mustJSON(map[string]interface{}{
			"player": env.Player, "member": env.Member, "data": json.RawMessage(in.Payload),
		})}}
	case "hire":
		return []Frame{{Type: frameType, Payload: mustJSON(map[string]interface{}{
			"player": env.Player, "member": env.Member, "character": env.Character,
			"data": env.Stats,
		})}}
	case "change":
		return []Frame{{Type: frameType, Payload: mustJSON(map[string]interface{}{
			"player": env.Player, "member": env.Member, "from": env.From, "to": env.To,
			"data": env.Stats,
		})}}
	case "save":
		return []Frame{{Type: frameType, Payload: in.Payload}}
	case "":
		return nil
	default:
		return []Frame{{Type: frameType, Payload: mustJSON(map[string]interface{}{
			"player": env.Player, "member": env.Member, "data": env.Stats,
		})}}
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
