package presence

// Store holds the authoritative device records in registration order and an
// index from live transport address to device id. It is not safe for
// concurrent use; the Registry serializes access.
type Store struct {
	records     map[string]DeviceRecord
	order       []string
	byTransport map[string]string
}

func NewStore() *Store {
	return &Store{
		records:     make(map[string]DeviceRecord),
		byTransport: make(map[string]string),
	}
}

func (s *Store) Get(id string) (DeviceRecord, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Put inserts or replaces rec. The transport index follows the record: a
// changed or offline transport address is released.
func (s *Store) Put(rec DeviceRecord) {
	if old, ok := s.records[rec.ID]; ok {
		if s.byTransport[old.TransportAddress] == rec.ID {
			delete(s.byTransport, old.TransportAddress)
		}
	} else {
		s.order = append(s.order, rec.ID)
	}

	s.records[rec.ID] = rec
	if rec.Online && rec.TransportAddress != "" {
		s.byTransport[rec.TransportAddress] = rec.ID
	}
}

func (s *Store) Delete(id string) {
	rec, ok := s.records[id]
	if !ok {
		return
	}
	if s.byTransport[rec.TransportAddress] == id {
		delete(s.byTransport, rec.TransportAddress)
	}
	delete(s.records, id)

	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) ByTransport(addr string) (DeviceRecord, bool) {
	id, ok := s.byTransport[addr]
	if !ok {
		return DeviceRecord{}, false
	}
	return s.Get(id)
}

// OnlineHolder returns the online record other than exceptID that claims
// peerAddress.
func (s *Store) OnlineHolder(peerAddress, exceptID string) (DeviceRecord, bool) {
	if peerAddress == "" {
		return DeviceRecord{}, false
	}
	for _, id := range s.order {
		rec := s.records[id]
		if id != exceptID && rec.Online && rec.PeerAddress == peerAddress {
			return rec, true
		}
	}
	return DeviceRecord{}, false
}

func (s *Store) List() []DeviceRecord {
	out := make([]DeviceRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

func (s *Store) Len() int {
	return len(s.records)
}
