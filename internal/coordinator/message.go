package coordinator

import (
	"container/heap"
	"strings"
	"time"

	"github.com/dayuer/pacebot/internal/bus"
)

// IncomingMessage is one user message waiting to be answered.
type IncomingMessage struct {
	Text        string
	ReceivedAt  time.Time
	Chat        bus.ChatRef
	MessageID   string
	Attachments []bus.Attachment
}

// FromInbound converts a bus message.
func FromInbound(m bus.InboundMessage) IncomingMessage {
	return IncomingMessage{
		Text:        m.Content,
		ReceivedAt:  m.Timestamp,
		Chat:        m.Chat(),
		MessageID:   m.MessageID,
		Attachments: m.Attachments,
	}
}

// OutgoingMessage is one planned part of a reply.
type OutgoingMessage struct {
	ID            string
	BatchID       string
	Content       string
	PlannedSendAt time.Time
	Chat          bus.ChatRef
	ReplyTo       string
	Index         int
	Total         int

	seq uint64
}

// IsReply reports whether the part quotes the user's message.
func (m *OutgoingMessage) IsReply() bool { return m.ReplyTo != "" }

// outgoingQueue is a min-heap on (PlannedSendAt, seq).
type outgoingQueue []*OutgoingMessage

func (q outgoingQueue) Len() int { return len(q) }

func (q outgoingQueue) Less(i, j int) bool { return before(q[i], q[j]) }

func before(a, b *OutgoingMessage) bool {
	if a.PlannedSendAt.Equal(b.PlannedSendAt) {
		return a.seq < b.seq
	}
	return a.PlannedSendAt.Before(b.PlannedSendAt)
}

func (q outgoingQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *outgoingQueue) Push(x any) { *q = append(*q, x.(*OutgoingMessage)) }

func (q *outgoingQueue) Pop() any {
	old := *q
	n := len(old)
	m := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return m
}

func (q *outgoingQueue) push(m *OutgoingMessage) { heap.Push(q, m) }

func (q *outgoingQueue) pop() *OutgoingMessage { return heap.Pop(q).(*OutgoingMessage) }

func (q outgoingQueue) peek() *OutgoingMessage {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// tail returns the latest planned part.
func (q outgoingQueue) tail() *OutgoingMessage {
	var last *OutgoingMessage
	for _, m := range q {
		if last == nil || before(last, m) {
			last = m
		}
	}
	return last
}

func (q outgoingQueue) contains(id string) bool {
	for _, m := range q {
		if m.ID == id {
			return true
		}
	}
	return false
}

// joinTexts builds the generation input from a batch, in arrival order.
func joinTexts(batch []IncomingMessage) string {
	texts := make([]string, 0, len(batch))
	for _, m := range batch {
		if m.Text != "" {
			texts = append(texts, m.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func attachments(batch []IncomingMessage) []bus.Attachment {
	var out []bus.Attachment
	for _, m := range batch {
		out = append(out, m.Attachments...)
	}
	return out
}
