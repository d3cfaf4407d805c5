package pubsub

import (
	"strings"

	"github.com/conix/hybridlauncher/event"
)

// Topics derives every topic the launcher uses from a common prefix, e.g. "realm/g/a/hybrid_rendering".
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	return strings.TrimSuffix(t.Prefix, "/") + "/" + strings.Join(parts, "/")
}

// Inbound maps each notification kind to the topic filter it arrives on.
func (t Topics) Inbound() map[event.Kind]string {
	return map[event.Kind]string{
		event.KindConnect:    t.join("client", "connect", "#"),
		event.KindDisconnect: t.join("client", "disconnect", "#"),
		event.KindStatus:     t.join("client", "remote", "#"),
	}
}

// Pairing is the topic under which pairing notifications are published, one subtopic per launch identifier.
func (t Topics) Pairing() string {
	return t.join("HAL", "connect")
}
