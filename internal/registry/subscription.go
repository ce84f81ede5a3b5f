package registry

// Subscription is one live query on one connection.
//
// The delivery state (watermark and visible map) is only read or written
// inside Registry.Update.
type Subscription struct {
	ConnID    string
	QueryID   string
	Predicate Predicate
	Sink      Sink

	since     int64
	watermark int64
	visible   map[string]int64
}

func newSubscription(connID, queryID string, pred Predicate, sink Sink, since int64) *Subscription {
	return &Subscription{
		ConnID:    connID,
		QueryID:   queryID,
		Predicate: pred,
		Sink:      sink,
		since:     since,
		watermark: since,
		visible:   make(map[string]int64),
	}
}

// Since is the watermark the client resumed from. The client may already
// hold matching versions with seq <= Since.
func (s *Subscription) Since() int64 { return s.since }

// Watermark is the highest sequence id delivered or replayed.
func (s *Subscription) Watermark() int64 { return s.watermark }

// Visible returns the seq of the version of objectID the client currently
// holds, if any.
func (s *Subscription) Visible(objectID string) (int64, bool) {
	seq, ok := s.visible[objectID]
	return seq, ok
}

// MarkDelivered records that version seq of objectID was sent.
func (s *Subscription) MarkDelivered(objectID string, seq int64) {
	s.visible[objectID] = seq
	if seq > s.watermark {
		s.watermark = seq
	}
}

// MarkDeleted records that a delete for objectID was sent.
func (s *Subscription) MarkDeleted(objectID string) {
	delete(s.visible, objectID)
}

// Advance raises the watermark without delivering anything.
func (s *Subscription) Advance(seq int64) {
	if seq > s.watermark {
		s.watermark = seq
	}
}
