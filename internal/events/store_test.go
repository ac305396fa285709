package events

import (
	"testing"
	"time"
)

func TestStoreAppendReadAndFilters(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	s := NewStore()

	base := time.Now().Add(-2 * time.Hour).UTC()
	seed := []Event{
		{Timestamp: base, Connection: "web1", EventType: TypeConnected},
		{Timestamp: base.Add(10 * time.Minute), Connection: "web1", SessionID: "s1", EventType: TypeSessionCreated},
		{Timestamp: base.Add(20 * time.Minute), Connection: "db1", EventType: TypeConnectFailed, Message: "dial tcp: timeout"},
	}
	for _, evt := range seed {
		if err := s.Append(evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := s.Read(Query{})
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	connOnly, err := s.Read(Query{Connection: "web1"})
	if err != nil {
		t.Fatalf("read connection: %v", err)
	}
	if len(connOnly) != 2 {
		t.Fatalf("expected 2 web1 events, got %d", len(connOnly))
	}

	limited, err := s.Read(Query{Limit: 1})
	if err != nil {
		t.Fatalf("read limit: %v", err)
	}
	if len(limited) != 1 || limited[0].Connection != "db1" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}

	since, err := s.Read(Query{Since: base.Add(15 * time.Minute)})
	if err != nil {
		t.Fatalf("read since: %v", err)
	}
	if len(since) != 1 || since[0].EventType != TypeConnectFailed {
		t.Fatalf("unexpected since result: %+v", since)
	}
}
