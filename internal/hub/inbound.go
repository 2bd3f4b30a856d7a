package hub

import "encoding/json"

// inboundMessage is a message sent by a downstream subscriber (spec §4.5).
type inboundMessage struct {
	Type   string  `json:"type"`
	Chains []int64 `json:"chains"`
}

func decodeInbound(data []byte) (inboundMessage, error) {
	var msg inboundMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}
