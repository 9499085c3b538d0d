package engine

import "github.com/cloud-on-prem/goose/internal/chat/message"

// transcript is the ordered, id-addressable message list of one session.
type transcript struct {
	msgs  []message.Message
	index map[string]int
}

func newTranscript(msgs []message.Message) *transcript {
	t := &transcript{
		msgs:  make([]message.Message, 0, len(msgs)),
		index: make(map[string]int, len(msgs)),
	}
	for _, m := range msgs {
		t.append(m.Clone())
	}
	return t
}

func (t *transcript) append(m message.Message) {
	if m.ID != "" {
		t.index[m.ID] = len(t.msgs)
	}
	t.msgs = append(t.msgs, m)
}

func (t *transcript) lookup(id string) (int, bool) {
	i, ok := t.index[id]
	return i, ok
}

func (t *transcript) at(i int) message.Message {
	return t.msgs[i]
}

func (t *transcript) replace(i int, m message.Message) {
	t.msgs[i] = m
}

// snapshot returns a deep copy safe to hand to other goroutines.
func (t *transcript) snapshot() []message.Message {
	return message.CloneAll(t.msgs)
}
