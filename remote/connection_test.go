package remote

import (
	"testing"
)

func TestConnectionSubscriptions(t *testing.T) {
	conn := NewConnection("c1", &Identity{Subject: "u"}, &JSONCodec{})

	conn.AddSubscription("jobs")
	conn.AddSubscription("queue:emails")

	subs := conn.Subscriptions()
	if len(subs) != 2 {
		t.Fatalf("len(subs) = %d, want 2", len(subs))
	}

	conn.RemoveSubscription("jobs")
	if len(conn.Subscriptions()) != 1 {
		t.Fatal("expected one subscription after removal")
	}
}

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager()

	c1 := NewConnection("c1", &Identity{Subject: "a"}, &JSONCodec{})
	c2 := NewConnection("c2", &Identity{Subject: "b"}, &JSONCodec{})
	cm.Add(c1)
	cm.Add(c2)

	if cm.Count() != 2 {
		t.Fatalf("count = %d, want 2", cm.Count())
	}

	got, ok := cm.Get("c1")
	if !ok || got.Identity.Subject != "a" {
		t.Fatalf("Get(c1) = %+v, %v", got, ok)
	}

	cm.Remove("c1")
	if _, ok := cm.Get("c1"); ok {
		t.Fatal("c1 should be removed")
	}
	if len(cm.All()) != 1 {
		t.Fatal("expected one remaining connection")
	}
}
